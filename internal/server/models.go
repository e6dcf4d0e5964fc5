package server

import (
	"time"

	"github.com/mohammad-safakhou/contentpipe/internal/review"
	"github.com/mohammad-safakhou/contentpipe/internal/runstore"
)

type TokenRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

type CreateRunRequest struct {
	Topic             string `json:"topic"`
	IncludeNewsletter bool   `json:"include_newsletter"`
	Graph             string `json:"graph"`
}

type CreateRunResponse struct {
	RunID  string          `json:"run_id"`
	Status runstore.Status `json:"status"`
}

type RunResponse struct {
	ID                string           `json:"id"`
	Topic             string           `json:"topic"`
	Graph             string           `json:"graph"`
	Engine            string           `json:"engine"`
	Status            runstore.Status  `json:"status"`
	IncludeNewsletter bool             `json:"include_newsletter"`
	Error             string           `json:"error,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	State             interface{}      `json:"state,omitempty"`
	Reviews           []review.Request `json:"reviews,omitempty"`
}

type DecisionRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
	// Reviewer is only honoured when token auth is disabled.
	Reviewer string `json:"reviewer"`
}

type DecisionResponse struct {
	Review  review.Request `json:"review"`
	Resumed bool           `json:"resumed"`
}
