package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.GradingModels()...))
	return db
}

func TestGradingRunRepositoryStoresQuestions(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGradingRunRepository(db)

	run := models.GradingRun{
		BatchID:       "batch-1",
		Subject:       "networking",
		Status:        models.GradingRunStatusCompleted,
		TotalScore:    17,
		MaxTotalScore: 20,
		AgentStats:    datatypes.JSONMap{"primary": map[string]interface{}{"items": 2}},
		AuditLog:      datatypes.JSON(`[{"seq":1,"type":"batch_start"}]`),
		StartedAt:     time.Now().UTC(),
		CompletedAt:   time.Now().UTC(),
		Questions: []models.GradedQuestion{
			{QuestionNum: 2, MaxScore: 10, FinalScore: 9, DirectConsensus: true},
			{QuestionNum: 1, MaxScore: 10, FinalScore: 8, Arbitrated: true, ConsensusRounds: 2},
			{QuestionNum: 3, MaxScore: 10, Failed: true, Error: strings.Repeat("provider said no. ", 60)},
		},
	}
	require.NoError(t, repo.Create(context.Background(), &run))
	require.NotZero(t, run.ID)

	stored, err := repo.GetByBatchID(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Equal(t, 17.0, stored.TotalScore)
	require.Len(t, stored.Questions, 3)
	require.Equal(t, 1, stored.Questions[0].QuestionNum)
	require.True(t, stored.Questions[0].Arbitrated)
	require.True(t, stored.Questions[2].Failed)
	require.Len(t, stored.Questions[2].Error, 18*60)

	_, err = repo.GetByBatchID(context.Background(), "missing")
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	runs, err := repo.List(context.Background(), GradingRunFilter{Subject: "networking"})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	runs, err = repo.List(context.Background(), GradingRunFilter{Subject: "history"})
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestGradingPromptRepositoryVersions(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGradingPromptRepository(db)
	ctx := context.Background()

	_, err := repo.Latest(ctx, "math")
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	first := models.GradingPrompt{Subject: "math", Content: "Grade fairly.", Source: models.PromptSourceManual}
	require.NoError(t, repo.AppendVersion(ctx, &first))
	require.Equal(t, 1, first.Version)

	second := models.GradingPrompt{Subject: "math", Content: "Grade fairly and check units.", Source: models.PromptSourceAutotune}
	require.NoError(t, repo.AppendVersion(ctx, &second))
	require.Equal(t, 2, second.Version)

	other := models.GradingPrompt{Subject: "physics", Content: "Check units.", Source: models.PromptSourceManual}
	require.NoError(t, repo.AppendVersion(ctx, &other))
	require.Equal(t, 1, other.Version)

	latest, err := repo.Latest(ctx, "math")
	require.NoError(t, err)
	require.Equal(t, "Grade fairly and check units.", latest.Content)

	history, err := repo.History(ctx, "math")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, 2, history[0].Version)
}
