package web

import (
	"net/http"
)

// resolveShare
//
//	@Summary		Resolve a share token
//	@Description	Exchanges a share token for a restricted single-server chat descriptor
//	@Tags			share
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	resolveShareResponse
//	@Router			/web/share/resolve [post]
func (s *Routes) resolveShare(w http.ResponseWriter, r *http.Request) error {
	var req resolveShareRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	identity, err := identityFrom(r)
	if err != nil {
		return err
	}

	shared, err := s.authorizer.ResolveShare(r.Context(), identity.Token, req.ShareToken)
	if err != nil {
		return err
	}

	// The descriptor's URL and headers stay server-side; the client only
	// needs enough to drive its OAuth state machine.
	return writeJSON(w, resolveShareResponse{
		WorkspaceID:   shared.WorkspaceID,
		ServerID:      shared.Descriptor.ServerID,
		ServerName:    shared.ServerName,
		TransportType: string(shared.Descriptor.Transport),
		UseOAuth:      shared.Descriptor.UseOAuth,
		InAppBrowser:  IsInAppBrowser(r.UserAgent()),
	})
}
