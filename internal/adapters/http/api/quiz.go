package api

import (
	"net/http"
)

// QuizHandler handles quiz routes.
type QuizHandler struct {
	deps QuizDependencies
}

// NewQuizHandler creates a new quiz handler.
func NewQuizHandler(deps QuizDependencies) *QuizHandler {
	return &QuizHandler{deps: deps}
}

// HandleCurrent handles GET /quiz. Answers are not included.
func (h *QuizHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	q, err := h.deps.CurrentQuiz(r.Context())
	if err != nil {
		writeFailure(w, Wrap("api.get_quiz", err))
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// HandleRotate handles PUT /quiz.
func (h *QuizHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	q, err := h.deps.RotateQuiz(r.Context())
	if err != nil {
		writeFailure(w, Wrap("api.rotate_quiz", err))
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// HandleByID handles GET /quiz/{id}, answers included.
func (h *QuizHandler) HandleByID(w http.ResponseWriter, r *http.Request) {
	q, err := h.deps.QuizByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, Wrap("api.quiz_by_id", err))
		return
	}
	writeJSON(w, http.StatusOK, q)
}
