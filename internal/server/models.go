package server

import "time"

// HTTPError is the unified error body returned by the API.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// DocumentRequest is the JSON body for URL-based submissions. Uploads use
// multipart form fields of the same names.
type DocumentRequest struct {
	URL                string `json:"url"`
	QuizQuestions      int    `json:"quiz_questions,omitempty"`
	FlashcardsPerTopic int    `json:"flashcards_per_topic,omitempty"`
}

// RunAccepted acknowledges a submission; the bundle is computed in the
// background and fetched via GET /api/runs/:id.
type RunAccepted struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Cached bool   `json:"cached,omitempty"`
}

type RunStatusResponse struct {
	RunID       string    `json:"run_id"`
	State       string    `json:"state"`
	Progress    float64   `json:"progress"`
	Message     string    `json:"message,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

type SearchHitResponse struct {
	RunID  string  `json:"run_id"`
	Source string  `json:"source"`
	Title  string  `json:"title"`
	Score  float64 `json:"score"`
}

type SearchResponse struct {
	Query string              `json:"query"`
	Hits  []SearchHitResponse `json:"hits"`
}
