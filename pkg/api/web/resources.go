package web

import (
	"context"
	"net/http"
)

// listResources
//
//	@Summary		List a server's resources
//	@Tags			resources
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	listResourcesResponse
//	@Router			/web/resources/list [post]
func (s *Routes) listResources(w http.ResponseWriter, r *http.Request) error {
	var req cursorRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	return s.withServer(r, &req.serverRequest, func(ctx context.Context, mgr sessionManager) error {
		result, err := mgr.ListResources(ctx, req.ServerID, req.Cursor)
		if err != nil {
			return err
		}
		return writeJSON(w, listResourcesResponse{
			Resources:  result.Resources,
			NextCursor: string(result.NextCursor),
		})
	})
}

// readResource
//
//	@Summary		Read one resource
//	@Tags			resources
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	readResourceResponse
//	@Router			/web/resources/read [post]
func (s *Routes) readResource(w http.ResponseWriter, r *http.Request) error {
	var req readResourceRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	return s.withServer(r, &req.serverRequest, func(ctx context.Context, mgr sessionManager) error {
		result, err := mgr.ReadResource(ctx, req.ServerID, req.URI)
		if err != nil {
			return err
		}
		return writeJSON(w, readResourceResponse{Content: result})
	})
}
