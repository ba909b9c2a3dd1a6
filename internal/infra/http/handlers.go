package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"certnode/internal/domain"
	"certnode/internal/graph"
	"certnode/internal/usecase"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createReceiptRequest struct {
	Domain       domain.ReceiptDomain `json:"domain"`
	Data         json.RawMessage      `json:"data"`
	ParentIDs    []string             `json:"parent_ids,omitempty"`
	RelationType domain.RelationType  `json:"relation_type,omitempty"`
	Description  string               `json:"description,omitempty"`
	CreatedBy    string               `json:"created_by,omitempty"`
}

type importRequest struct {
	Envelope     domain.Envelope     `json:"envelope"`
	RelationType domain.RelationType `json:"relation_type,omitempty"`
}

type linkRequest struct {
	ParentID     string              `json:"parent_id"`
	ChildID      string              `json:"child_id"`
	RelationType domain.RelationType `json:"relation_type"`
	Description  string              `json:"description,omitempty"`
	CreatedBy    string              `json:"created_by,omitempty"`
}

type pathsResponse struct {
	From  string        `json:"from"`
	To    string        `json:"to"`
	Paths []domain.Path `json:"paths"`
}

func (s *Server) handleCreateReceipt(c *gin.Context) {
	var req createReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if len(req.Data) == 0 {
		writeError(c, fmt.Errorf("%w: data is required", domain.ErrInvalidPayload))
		return
	}
	data, err := domain.DecodePayload(req.Domain, req.Data)
	if err != nil {
		writeError(c, err)
		return
	}
	view, err := s.receipts.CreateReceipt(c.Request.Context(), usecase.CreateReceiptRequest{
		Domain:       req.Domain,
		Data:         data,
		ParentIDs:    req.ParentIDs,
		RelationType: req.RelationType,
		Description:  req.Description,
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (s *Server) handleImportReceipt(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	view, err := s.receipts.Import(c.Request.Context(), req.Envelope, req.RelationType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (s *Server) handleGetReceipt(c *gin.Context) {
	view, err := s.receipts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleGraph(c *gin.Context) {
	q := usecase.GraphQuery{Direction: domain.GraphDirection(c.DefaultQuery("direction", string(domain.DirectionBoth)))}
	var err error
	if q.MaxDepth, err = intQuery(c, "max_depth"); err != nil {
		writeError(c, err)
		return
	}
	if q.MaxNodes, err = intQuery(c, "max_nodes"); err != nil {
		writeError(c, err)
		return
	}
	g, err := s.receipts.QueryGraph(c.Request.Context(), c.Param("id"), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) handleTrust(c *gin.Context) {
	assessment, err := s.receipts.AssessTrust(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

func (s *Server) handleCompleteness(c *gin.Context) {
	result, err := s.receipts.Completeness(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleVerifyStored(c *gin.Context) {
	result, err := s.receipts.VerifyStored(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleLink(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	rel, err := s.receipts.Link(c.Request.Context(), graph.LinkRequest{
		ParentID:     req.ParentID,
		ChildID:      req.ChildID,
		RelationType: req.RelationType,
		Description:  req.Description,
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rel)
}

func (s *Server) handlePaths(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		writeError(c, fmt.Errorf("%w: from and to are required", domain.ErrInvalidArgument))
		return
	}
	maxPaths, err := intQuery(c, "max_paths")
	if err != nil {
		writeError(c, err)
		return
	}
	paths, err := s.receipts.FindPaths(c.Request.Context(), from, to, maxPaths)
	if err != nil {
		writeError(c, err)
		return
	}
	if paths == nil {
		paths = []domain.Path{}
	}
	c.JSON(http.StatusOK, pathsResponse{From: from, To: to, Paths: paths})
}

func (s *Server) handleCrossProduct(c *gin.Context) {
	a, b := c.Query("a"), c.Query("b")
	if a == "" || b == "" {
		writeError(c, fmt.Errorf("%w: a and b are required", domain.ErrInvalidArgument))
		return
	}
	result, err := s.receipts.CrossProduct(c.Request.Context(), a, b)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListPatterns(c *gin.Context) {
	var names []string
	if s.receipts.Patterns != nil {
		names = s.receipts.Patterns.Names()
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"patterns": names})
}

func (s *Server) handleDetectPatterns(c *gin.Context) {
	matches, err := s.receipts.DetectPatterns(c.Request.Context(), c.Query("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	if matches == nil {
		matches = []domain.PatternMatch{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (s *Server) handleVerify(c *gin.Context) {
	var env domain.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	result, err := s.receipts.Verify(c.Request.Context(), env)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleJWKS(c *gin.Context) {
	if s.jwks == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	set, err := s.jwks.JWKS()
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, set)
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidArgument, name)
	}
	return v, nil
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidPayload):
		status, code = http.StatusBadRequest, "INVALID_PAYLOAD"
	case errors.Is(err, domain.ErrInvalidEnvelope):
		status, code = http.StatusBadRequest, "INVALID_ENVELOPE"
	case errors.Is(err, domain.ErrInvalidRelation):
		status, code = http.StatusBadRequest, "INVALID_RELATION"
	case errors.Is(err, domain.ErrSelfLink):
		status, code = http.StatusBadRequest, "SELF_LINK"
	case errors.Is(err, domain.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrUnsupportedAlgorithm):
		status, code = http.StatusBadRequest, "UNSUPPORTED_ALGORITHM"
	case errors.Is(err, domain.ErrCycleDetected):
		status, code = http.StatusConflict, "CYCLE_DETECTED"
	case errors.Is(err, domain.ErrDuplicateRelationship):
		status, code = http.StatusConflict, "DUPLICATE_RELATIONSHIP"
	case errors.Is(err, domain.ErrDuplicateReceipt):
		status, code = http.StatusConflict, "DUPLICATE_RECEIPT"
	case errors.Is(err, domain.ErrKeyNotFound):
		status, code = http.StatusNotFound, "KEY_NOT_FOUND"
	case errors.Is(err, domain.ErrPatternUnknown):
		status, code = http.StatusNotFound, "PATTERN_UNKNOWN"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
