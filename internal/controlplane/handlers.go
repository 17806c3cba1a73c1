package controlplane

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vobby/vobby/internal/coordinator"
	"github.com/vobby/vobby/internal/identity"
	"github.com/vobby/vobby/internal/remote"
	"github.com/vobby/vobby/internal/tree"
	"github.com/vobby/vobby/internal/version"
)

type Handler struct {
	backend Backend
}

func NewHandler(backend Backend) *Handler {
	return &Handler{backend: backend}
}

func (h *Handler) Index(c *gin.Context) {
	c.PureJSON(http.StatusOK, version.Info())
}

func (h *Handler) Status(c *gin.Context) {
	c.PureJSON(http.StatusOK, &StatusResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
		Revision:  version.Revision,
		Bridge:    h.backend.Status(),
	})
}

// Tree lists every known node. ?format=text returns the indented listing.
func (h *Handler) Tree(c *gin.Context) {
	if c.Query("format") == "text" {
		c.String(http.StatusOK, h.backend.TreeString())
		return
	}
	c.PureJSON(http.StatusOK, &TreeResponse{Nodes: h.backend.Tree()})
}

func (h *Handler) Documents(c *gin.Context) {
	c.PureJSON(http.StatusOK, &DocumentsResponse{Documents: h.backend.Documents()})
}

func (h *Handler) Identities(c *gin.Context) {
	entries := h.backend.Identities()
	items := make([]IdentityItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, newIdentityItem(e))
	}
	c.PureJSON(http.StatusOK, &IdentitiesResponse{Identities: items})
}

func (h *Handler) CreateNode(c *gin.Context) {
	var req CreateNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	kind := tree.KindFile
	if req.Kind == "dir" {
		kind = tree.KindDirectory
	}
	h.dispatch(c, coordinator.Event{Kind: coordinator.LocalCreate, Path: req.Path, NodeKind: kind})
}

func (h *Handler) RemoveNode(c *gin.Context) {
	var req RemoveNodeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}
	h.dispatch(c, coordinator.Event{Kind: coordinator.LocalRemove, Path: req.Path})
}

// Explore asks the server for the children of a directory. An empty body
// explores the root.
func (h *Handler) Explore(c *gin.Context) {
	var req ExploreRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
			return
		}
	}
	h.dispatch(c, coordinator.Event{Kind: coordinator.LocalExplore, Path: req.Path})
}

// dispatch runs ev and replies 202: the outcome arrives later through the
// server's directory events.
func (h *Handler) dispatch(c *gin.Context, ev coordinator.Event) {
	if err := h.backend.Dispatch(ev); err != nil {
		status, code := classify(err)
		AbortWithError(c, status, code, err)
		return
	}
	c.PureJSON(http.StatusAccepted, &ControlPlaneResponse{Code: CodeOk})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, tree.ErrNotFound), errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, tree.ErrAlreadyExists), errors.Is(err, tree.ErrNotEmpty),
		errors.Is(err, identity.ErrConflictingBinding):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, tree.ErrNotDirectory), errors.Is(err, tree.ErrInvalidName):
		return http.StatusBadRequest, ErrCodeInvalidAction
	case errors.Is(err, remote.ErrNotConnected):
		return http.StatusServiceUnavailable, ErrCodeNotConnected
	default:
		return http.StatusInternalServerError, ErrCodeUnknownError
	}
}

func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	_ = c.Error(err)
	c.PureJSON(status, ControlPlaneError{
		ErrorCode: code,
		Error:     err.Error(),
	})
}
