package control

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/nvrlite/internal/control/models"
)

// registerRecordRoutes registers /record/start and /record/stop with the
// race protocol: the pending flag is armed under the write lock before the
// command goes out, and the handler then polls for the recorder's started
// notification to make the call synchronous.
func (s *Server) registerRecordRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "record-start",
		Method:      http.MethodPost,
		Path:        "/record/start",
		Summary:     "Start Recording",
		Description: "Start an MP4 recording including the pre-roll buffer",
		Tags:        []string{"recording"},
		Errors:      []int{400, 404, 500},
	}, func(ctx context.Context, input *models.StreamRequest) (*models.ActionResponse, error) {
		id := input.Body.StreamID
		if id == "" {
			return nil, huma.Error400BadRequest("Missing or invalid 'stream_id'")
		}
		if !s.state.Has(id) {
			return unknownStream(id), nil
		}

		decision, file := s.state.BeginRecordStart(id)
		switch decision {
		case startAlreadyRecording:
			return &models.ActionResponse{
				Status: http.StatusOK,
				Body: models.ActionData{
					Status:   "ok",
					StreamID: id,
					File:     file,
					Message:  "already recording",
				},
			}, nil
		case startAlreadyPending:
			return &models.ActionResponse{
				Status: http.StatusAccepted,
				Body: models.ActionData{
					Status:   "pending",
					StreamID: id,
					Message:  "start already pending",
				},
			}, nil
		}

		s.pipelines.StartRecording(id)

		if file, ok := s.pollLastFile(ctx, id, startPollTimeout, startPollInterval); ok {
			return &models.ActionResponse{
				Status: http.StatusOK,
				Body:   models.ActionData{Status: "ok", StreamID: id, File: file},
			}, nil
		}

		// The pending flag is deliberately left set: the recorder's
		// started notification completes the transition whenever it
		// arrives.
		return &models.ActionResponse{
			Status: http.StatusInternalServerError,
			Body: models.ActionData{
				Status:   "error",
				StreamID: id,
				Message:  "timeout waiting for recording to start",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "record-stop",
		Method:      http.MethodPost,
		Path:        "/record/stop",
		Summary:     "Stop Recording",
		Description: "Stop a recording; the post-roll keeps collecting packets before finalize",
		Tags:        []string{"recording"},
		Errors:      []int{400, 404},
	}, func(ctx context.Context, input *models.StreamRequest) (*models.ActionResponse, error) {
		id := input.Body.StreamID
		if id == "" {
			return nil, huma.Error400BadRequest("Missing or invalid 'stream_id'")
		}
		if !s.state.Has(id) {
			return unknownStream(id), nil
		}

		wasRecording, wasPending := s.state.BeginRecordStop(id)
		if !wasRecording && !wasPending {
			return &models.ActionResponse{
				Status: http.StatusOK,
				Body:   models.ActionData{Status: "ok", StreamID: id, Message: "not recording"},
			}, nil
		}

		s.pipelines.StopRecording(id)

		file, _ := s.pollLastFile(ctx, id, stopPollTimeout, stopPollInterval)
		return &models.ActionResponse{
			Status: http.StatusOK,
			Body:   models.ActionData{Status: "ok", StreamID: id, File: file},
		}, nil
	})
}
