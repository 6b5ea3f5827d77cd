package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/rating"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/store"
)

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed FILE...",
		Short: "Import employees and scenarios from JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSeed,
	}
	f := cmd.Flags()
	f.String("db", "tracker.db", "SQLite database path")
	addLogFlags(f)
	return cmd
}

func runSeed(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return importSeedFiles(cmd.Context(), db, args)
}

// importSeedFiles imports each file once. A file whose content changed since
// it was imported is skipped with a warning.
func importSeedFiles(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("seed file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("seed file changed since last import, skipping to avoid rewriting existing scenarios",
				"path", path)
			continue
		}

		var seed model.SeedFile
		if err := json.Unmarshal(data, &seed); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		employees, scenarios, err := importSeed(ctx, db, seed)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}

		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported seed file", "path", path, "employees", employees, "scenarios", scenarios)
	}
	return nil
}

// importSeed creates the seed's employees and scenarios. Existing ids are
// left untouched.
func importSeed(ctx context.Context, db *store.Store, seed model.SeedFile) (employees, scenarios int, err error) {
	for _, ei := range seed.Employees {
		if ei.ID == "" || ei.Name == "" {
			return employees, scenarios, fmt.Errorf("employee %q: id and name are required", ei.ID)
		}
		e := model.Employee{
			ID:            ei.ID,
			Name:          ei.Name,
			Department:    ei.Department,
			Rating:        ei.Rating,
			SkillsProfile: map[string]float64{},
		}
		if e.Rating == 0 {
			e.Rating = rating.DefaultRating
		}
		if err := db.CreateEmployee(ctx, e); err != nil {
			if errors.Is(err, model.ErrConflict) {
				slog.Warn("employee already exists, skipping", "id", e.ID)
				continue
			}
			return employees, scenarios, err
		}
		employees++
	}

	for _, si := range seed.Scenarios {
		sc, err := scenarioFromImport(si)
		if err != nil {
			return employees, scenarios, err
		}
		if err := db.CreateScenario(ctx, sc); err != nil {
			if errors.Is(err, model.ErrConflict) {
				slog.Warn("scenario already exists, skipping", "id", sc.ID)
				continue
			}
			return employees, scenarios, err
		}
		scenarios++
	}
	return employees, scenarios, nil
}

func scenarioFromImport(si model.ScenarioImport) (model.Scenario, error) {
	if si.ID == "" || si.Title == "" {
		return model.Scenario{}, fmt.Errorf("scenario %q: id and title are required", si.ID)
	}
	difficulty, ok := model.ParseDifficulty(si.Difficulty)
	if !ok {
		return model.Scenario{}, fmt.Errorf("scenario %s: unknown difficulty %q", si.ID, si.Difficulty)
	}
	typ := si.Type
	if typ == "" {
		typ = model.ScenarioText
	}

	questions := make([]model.Question, 0, len(si.Questions))
	for _, q := range si.Questions {
		if q.Type == "" {
			q.Type = typ
		}
		if q.Difficulty == "" {
			q.Difficulty = difficulty
		} else if d, ok := model.ParseDifficulty(string(q.Difficulty)); ok {
			q.Difficulty = d
		} else {
			return model.Scenario{}, fmt.Errorf("scenario %s: unknown question difficulty %q", si.ID, q.Difficulty)
		}
		questions = append(questions, q)
	}

	return model.Scenario{
		ID:          si.ID,
		Title:       si.Title,
		Description: si.Description,
		Skill:       si.Skill,
		Difficulty:  difficulty,
		Rubric:      si.Rubric,
		Type:        typ,
		Questions:   questions,
	}, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
