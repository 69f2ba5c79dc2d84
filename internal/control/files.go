package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/nvrlite/internal/control/models"
	"github.com/smazurov/nvrlite/internal/filestore"
)

// registerFileRoutes registers the recordings folder surface. All file
// parameters are bare basenames; anything else is rejected before it can
// touch the filesystem.
func (s *Server) registerFileRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "files-list",
		Method:      http.MethodGet,
		Path:        "/files/list",
		Summary:     "List Recordings",
		Description: "List files in the recordings folder, newest first",
		Tags:        []string{"files"},
		Errors:      []int{500},
	}, func(_ context.Context, input *struct {
		Ext string `query:"ext" example:"mp4" doc:"Only list files with this extension" required:"false"`
		All string `query:"all" example:"1" doc:"Set to 1 to list every file" required:"false"`
	}) (*models.FileListResponse, error) {
		ext := input.Ext
		if input.All == "1" {
			ext = ""
		} else if ext == "" {
			ext = "mp4"
		}

		files, err := s.store.List(ext)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list recordings", err)
		}

		out := make([]models.FileData, len(files))
		for i, f := range files {
			out[i] = fileData(f)
		}
		return &models.FileListResponse{
			Body: models.FileListData{Status: "ok", Files: out},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "files-status",
		Method:      http.MethodGet,
		Path:        "/files/status",
		Summary:     "Recording Status",
		Description: "Stat one file in the recordings folder",
		Tags:        []string{"files"},
		Errors:      []int{400, 404},
	}, func(_ context.Context, input *struct {
		File string `query:"file" example:"rec_cam1_2025-01-27_10-30-00.mp4" doc:"File basename"`
	}) (*models.FileStatusResponse, error) {
		fi, err := s.store.Stat(input.File)
		if err != nil {
			return fileError(err)
		}
		data := fileData(fi)
		return &models.FileStatusResponse{
			Status: http.StatusOK,
			Body:   models.FileStatusData{Status: "ok", File: &data},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "files-remove",
		Method:      http.MethodPost,
		Path:        "/files/remove",
		Summary:     "Remove Recording",
		Description: "Delete one file from the recordings folder. The file may be given as a query parameter or a JSON body field.",
		Tags:        []string{"files"},
		Errors:      []int{400, 404},
		// the body is optional: the file may come from the query alone
		RequestBody: &huma.RequestBody{Required: false},
	}, func(_ context.Context, input *struct {
		File    string `query:"file" example:"rec_cam1_2025-01-27_10-30-00.mp4" doc:"File basename" required:"false"`
		RawBody []byte
	}) (*models.FileStatusResponse, error) {
		name := input.File
		if name == "" && len(input.RawBody) > 0 {
			var body struct {
				File string `json:"file"`
			}
			if err := json.Unmarshal(input.RawBody, &body); err != nil {
				return nil, huma.Error400BadRequest("invalid JSON body", err)
			}
			name = body.File
		}
		if name == "" {
			return nil, huma.Error400BadRequest("missing 'file' parameter")
		}

		if err := s.store.Remove(name); err != nil {
			return fileError(err)
		}
		return &models.FileStatusResponse{
			Status: http.StatusOK,
			Body:   models.FileStatusData{Status: "ok", Message: "removed"},
		}, nil
	})
}

func fileData(f filestore.FileInfo) models.FileData {
	return models.FileData{
		Name:            f.Name,
		SizeBytes:       f.SizeBytes,
		LastModifiedUTC: f.LastModifiedUTC.Format(time.RFC3339),
	}
}

// fileError maps store errors onto the API without leaking paths.
func fileError(err error) (*models.FileStatusResponse, error) {
	switch {
	case errors.Is(err, filestore.ErrUnsafePath):
		return nil, huma.Error400BadRequest("invalid 'file' parameter", err)
	case errors.Is(err, filestore.ErrNotFound):
		return &models.FileStatusResponse{
			Status: http.StatusNotFound,
			Body:   models.FileStatusData{Status: "not_found", Message: "no such file"},
		}, nil
	default:
		return nil, huma.Error500InternalServerError("file operation failed", err)
	}
}
