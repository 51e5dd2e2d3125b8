package usecase

import (
	"time"

	"RevAI/internal/domain"
)

type nopRecorder struct{}

func (nopRecorder) ObserveUpload(int) {}
func (nopRecorder) ObserveEvaluation(domain.Evaluation) {}
func (nopRecorder) ObserveBatch(int, int, time.Duration) {}
