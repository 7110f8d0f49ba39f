package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/prepin/attempt-engine/internal/config"
	"github.com/prepin/attempt-engine/internal/database"
	"github.com/prepin/attempt-engine/internal/logger"
	"github.com/prepin/attempt-engine/internal/model"
	"github.com/prepin/attempt-engine/internal/repository"
)

// Seeds one demo learner and a published exam template with a small mix
// of multiple choice and free response questions, for local development.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	learnerRepo := repository.NewLearnerRepository(pool)

	fmt.Println("=== Seeding Demo Data ===")

	// ─── Learner ───────────────────────────────────────────────────────
	email := "demo@example.com"
	learner, err := learnerRepo.GetByEmail(ctx, email)
	if err == nil {
		fmt.Printf("Found existing learner with ID: %d\n", learner.ID)
	} else if err == pgx.ErrNoRows {
		hash, hashErr := bcrypt.GenerateFromPassword([]byte("demo-password"), cfg.BcryptCost)
		if hashErr != nil {
			log.Fatal().Err(hashErr).Msg("Failed to hash password")
		}
		learner = &model.Learner{
			Name:         "Demo Learner",
			Email:        email,
			PasswordHash: string(hash),
		}
		if createErr := learnerRepo.Create(ctx, learner); createErr != nil {
			log.Fatal().Err(createErr).Msg("Failed to create learner")
		}
		fmt.Printf("Created learner with ID: %d\n", learner.ID)
	} else {
		log.Fatal().Err(err).Msg("Failed to check existing learner")
	}

	// ─── Template ──────────────────────────────────────────────────────
	templateID := uuid.New()
	_, err = pool.Exec(ctx,
		`INSERT INTO exam_templates (id, title, duration_minutes, published)
		 VALUES ($1, $2, $3, TRUE)`,
		templateID, "Biology Midterm (Demo)", 45,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create template")
	}
	fmt.Printf("Created template %s\n", templateID)

	// ─── Questions ─────────────────────────────────────────────────────
	questions := []struct {
		qType model.QuestionType
		body  string
	}{
		{model.QuestionTypeMultipleChoice, "Which organelle produces ATP?"},
		{model.QuestionTypeMultipleChoice, "What is the monomer of proteins?"},
		{model.QuestionTypeMultipleChoice, "Which base pairs with adenine in DNA?"},
		{model.QuestionTypeFreeResponse, "Explain the difference between mitosis and meiosis."},
		{model.QuestionTypeFreeResponse, "Describe how enzymes lower activation energy."},
	}

	for i, q := range questions {
		_, err = pool.Exec(ctx,
			`INSERT INTO template_questions (id, template_id, question_type, body, order_num)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), templateID, q.qType, q.body, i+1,
		)
		if err != nil {
			log.Fatal().Err(err).Int("order", i+1).Msg("Failed to create question")
		}
	}

	fmt.Printf("Created %d questions\n", len(questions))
	fmt.Println("\nDone. Log in with demo@example.com / demo-password")
}
