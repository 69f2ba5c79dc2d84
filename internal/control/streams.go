package control

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/nvrlite/internal/control/models"
)

// registerStreamRoutes registers the stream enable/disable/status surface.
func (s *Server) registerStreamRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "stream-start",
		Method:      http.MethodPost,
		Path:        "/stream/start",
		Summary:     "Start Streaming",
		Description: "Enable RTSP ingestion for a stream",
		Tags:        []string{"streams"},
		Errors:      []int{400, 404},
	}, func(_ context.Context, input *models.StreamRequest) (*models.ActionResponse, error) {
		id := input.Body.StreamID
		if id == "" {
			return nil, huma.Error400BadRequest("Missing or invalid 'stream_id'")
		}
		if !s.state.Has(id) {
			return unknownStream(id), nil
		}

		s.pipelines.EnableStream(id)
		return &models.ActionResponse{
			Status: http.StatusOK,
			Body:   models.ActionData{Status: "ok", StreamID: id},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stream-stop",
		Method:      http.MethodPost,
		Path:        "/stream/stop",
		Summary:     "Stop Streaming",
		Description: "Disable RTSP ingestion for a stream",
		Tags:        []string{"streams"},
		Errors:      []int{400, 404},
	}, func(_ context.Context, input *models.StreamRequest) (*models.ActionResponse, error) {
		id := input.Body.StreamID
		if id == "" {
			return nil, huma.Error400BadRequest("Missing or invalid 'stream_id'")
		}
		if !s.state.Has(id) {
			return unknownStream(id), nil
		}

		s.pipelines.DisableStream(id)
		return &models.ActionResponse{
			Status: http.StatusOK,
			Body:   models.ActionData{Status: "ok", StreamID: id},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stream-status",
		Method:      http.MethodGet,
		Path:        "/stream/status",
		Summary:     "Stream Status",
		Description: "Snapshot of one stream or all streams",
		Tags:        []string{"streams"},
		Errors:      []int{404},
	}, func(_ context.Context, input *struct {
		StreamID string `query:"stream_id" example:"cam1" doc:"Restrict the snapshot to one stream" required:"false"`
	}) (*models.StatusResponse, error) {
		if input.StreamID != "" {
			st, ok := s.state.Snapshot(input.StreamID)
			if !ok {
				return &models.StatusResponse{
					Status: http.StatusNotFound,
					Body:   models.StatusData{Status: "not_found", Message: "Unknown stream_id"},
				}, nil
			}
			snap := snapshotData(input.StreamID, st)
			return &models.StatusResponse{
				Status: http.StatusOK,
				Body:   models.StatusData{Status: "ok", Stream: &snap},
			}, nil
		}

		ids, states := s.state.SnapshotAll()
		streams := make([]models.StreamStatusData, len(ids))
		for i := range ids {
			streams[i] = snapshotData(ids[i], states[i])
		}
		return &models.StatusResponse{
			Status: http.StatusOK,
			Body:   models.StatusData{Status: "ok", Streams: streams},
		}, nil
	})
}

func snapshotData(id string, st StreamState) models.StreamStatusData {
	data := models.StreamStatusData{
		StreamID:  id,
		Streaming: st.Streaming,
		Recording: st.Recording,
	}
	if st.LastFile != "" {
		file := st.LastFile
		data.File = &file
	}
	return data
}

func unknownStream(id string) *models.ActionResponse {
	return &models.ActionResponse{
		Status: http.StatusNotFound,
		Body:   models.ActionData{Status: "failed", StreamID: id, Message: "Unknown stream_id"},
	}
}
