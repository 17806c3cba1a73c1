package controlplane

import (
	"github.com/vobby/vobby/internal/coordinator"
	"github.com/vobby/vobby/internal/identity"
	"github.com/vobby/vobby/internal/mirror"
)

const (
	CodeOk               = "OK"
	ErrCodeBadRequest    = "ERR_BAD_REQUEST"
	ErrCodeNotFound      = "ERR_NOT_FOUND"
	ErrCodeConflict      = "ERR_CONFLICT"
	ErrCodeNotConnected  = "ERR_NOT_CONNECTED"
	ErrCodeUnknownError  = "ERR_UNKNOWN_ERROR"
	ErrCodeInvalidAction = "ERR_INVALID_ACTION"
)

type ControlPlaneResponse struct {
	Code string `json:"code"`
}

type ControlPlaneError struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

type StatusResponse struct {
	Status    string             `json:"status"`
	Timestamp string             `json:"ts"`
	Version   string             `json:"version"`
	Revision  string             `json:"revision"`
	Bridge    coordinator.Status `json:"bridge"`
}

type TreeResponse struct {
	Nodes []coordinator.NodeInfo `json:"nodes"`
}

type DocumentsResponse struct {
	Documents []mirror.Info `json:"documents"`
}

type IdentityItem struct {
	Path     string `json:"path"`
	RemoteID string `json:"remoteId"`
	Session  string `json:"session,omitempty"`
	Handle   string `json:"handle,omitempty"`
}

func newIdentityItem(e identity.Entry) IdentityItem {
	item := IdentityItem{
		Path:     e.Path,
		RemoteID: e.RemoteID.String(),
		Session:  e.Session,
	}
	if e.Handle != identity.NoBuffer {
		item.Handle = e.Handle.String()
	}
	return item
}

type IdentitiesResponse struct {
	Identities []IdentityItem `json:"identities"`
}

type CreateNodeRequest struct {
	Path string `json:"path" binding:"required"`
	Kind string `json:"kind" binding:"required,oneof=file dir"`
}

type RemoveNodeRequest struct {
	Path string `form:"path" binding:"required"`
}

type ExploreRequest struct {
	Path string `json:"path"`
}
