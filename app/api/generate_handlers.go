package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/stoa/app/generation"
)

func (h *Handler) Generate(c *gin.Context) {
	var req generation.Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondBadRequest(c, err)
		return
	}

	post, err := h.generator.Generate(c.Request.Context(), req)
	if err != nil {
		respondError(c, "generate", err)
		return
	}
	c.JSON(http.StatusCreated, newPostResponse(post))
}

func (h *Handler) GenerateReply(c *gin.Context) {
	var req generation.ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	post, err := h.generator.GenerateReply(c.Request.Context(), req)
	if err != nil {
		respondError(c, "generate_reply", err)
		return
	}
	c.JSON(http.StatusCreated, newPostResponse(post))
}

func (h *Handler) GenerateBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := h.generator.GenerateBatch(c.Request.Context(), req.Count, req.Request)
	if err != nil {
		respondError(c, "generate_batch", err)
		return
	}

	created := make([]PostResponse, 0, len(result.Posts))
	for _, post := range result.Posts {
		created = append(created, newPostResponse(post))
	}
	c.JSON(http.StatusCreated, gin.H{
		"posts":     created,
		"errors":    result.Errors,
		"requested": req.Count,
		"created":   len(created),
	})
}

func (h *Handler) Refine(c *gin.Context) {
	var req refineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := h.generator.Refine(c.Request.Context(), req.Content, req.Instruction)
	if err != nil {
		respondError(c, "refine", err)
		return
	}

	c.JSON(http.StatusOK, result)
}
