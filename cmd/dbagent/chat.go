package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relaydb/dbagent/internal/migration"
	"github.com/relaydb/dbagent/internal/models"
)

func buildChatCmd() *cobra.Command {
	var migrationTaskID int64
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation against the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), migrationTaskID)
		},
	}
	cmd.Flags().Int64Var(&migrationTaskID, "migration-task", 0,
		"Migration task id to drive this session against; if the task has auto_execute set, "+
			"every execute_sql the model issues for it runs confirmed, unattended (spec.md §4.9)")
	return cmd
}

// runChat is a single-session REPL: it reads a line, feeds it to the
// engine, and when a turn stops on a pending confirmation it prompts the
// operator for yes/no before resuming. When migrationTaskID names a task
// with auto_execute set, the engine's auto-execute override is armed
// before the loop starts, so the model's execute_sql calls for that task
// run unattended instead of pausing on pending_confirmation.
func runChat(ctx context.Context, migrationTaskID int64) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	llm, err := a.llmClient()
	if err != nil {
		return err
	}

	migrationHandler := migration.NewHandler(migration.NewPostgresStore(a.store.DB()))
	sessionID := uuid.NewString()
	nowTime := time.Now()
	if err := a.store.CreateSession(ctx, &models.Session{ID: sessionID, Name: "chat", IsCurrent: true, CreatedAt: nowTime, UpdatedAt: nowTime}); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	engine := a.newEngine(llm, migrationHandler, sessionID)
	defer engine.Close()

	if migrationTaskID != 0 {
		task, err := migrationHandler.GetTask(ctx, migrationTaskID)
		if err != nil {
			return fmt.Errorf("load migration task %d: %w", migrationTaskID, err)
		}
		if task.AutoExecute {
			engine.StartAutoExecuteMigration()
			fmt.Printf("auto-execute armed for migration task %d — execute_sql calls will run unattended\n", migrationTaskID)
		}
	}

	fmt.Println("dbagent chat — type a request, or \"exit\" to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		result, err := engine.Chat(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if result.Interrupted {
			fmt.Println("(turn interrupted)")
			continue
		}
		if result.Content != "" {
			fmt.Println(result.Content)
		}
		for len(result.PendingOps) > 0 {
			if !confirmPrompt(scanner, result.PendingOps[0]) {
				fmt.Println("skipped.")
				break
			}
			confirmed, err := engine.ConfirmOperation(ctx, 0)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				break
			}
			fmt.Printf("(%s)\n", confirmed.Status)
			result, err = engine.Chat(ctx, "the operation was confirmed, please continue")
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				break
			}
			if result.Content != "" {
				fmt.Println(result.Content)
			}
		}
	}
}

func confirmPrompt(scanner *bufio.Scanner, op models.PendingOperation) bool {
	fmt.Printf("pending %s: %s\nconfirm? [y/N] ", op.Kind, string(op.ToolCall.Arguments))
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
