package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"coursemarket_echo/internal/config"
	"coursemarket_echo/internal/logger"
	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/services"
	"coursemarket_echo/internal/store"
	"coursemarket_echo/internal/tasks"
)

func main() {
	// defined flags
	taskName := flag.String("task_name", "", "Name of the task (mandatory)")
	argsStr := flag.String("arguments", "{}", "JSON arguments for the task")
	dueStr := flag.String("due", "", "Due date (mandatory, format: 2006-01-02 15:04 or RFC3339)")
	taskType := flag.String("tasktype", "onetime", "Task type (onetime or recurring)")
	recurring := flag.String("recurring", "", "RRULE for recurring tasks, e.g. FREQ=DAILY;BYHOUR=3")
	maxAttempt := flag.Int("max_attempt", 3, "Max attempts")

	flag.Parse()

	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry)

	// Validation
	if *taskName == "" || *dueStr == "" {
		fmt.Println("Usage: schedule_task -task_name <name> -due <YYYY-MM-DD HH:MM> [-arguments <json>] [options]")
		names := registry.Names()
		sort.Strings(names)
		fmt.Printf("Known tasks: %v\n", names)
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := config.Load()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if _, ok := registry.Get(*taskName); !ok {
		log.Fatal("Unknown task", "task_name", *taskName)
	}

	// Parse arguments JSON
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(*argsStr), &args); err != nil {
		log.Fatal("Invalid JSON arguments", "error", err)
	}

	// RFC3339 first, then the short local-time layout
	due, err := time.Parse(time.RFC3339, *dueStr)
	if err != nil {
		due, err = time.ParseInLocation("2006-01-02 15:04", *dueStr, time.Local)
		if err != nil {
			log.Fatal("Invalid due date format. Use '2006-01-02 15:04' (Local) or RFC3339", "error", err)
		}
	}

	kind := models.ScheduledTaskType(*taskType)
	var recurringPtr *string
	switch kind {
	case models.ScheduledTaskTypeOneTime:
	case models.ScheduledTaskTypeRecurring:
		if _, err := rrule.StrToRRule(*recurring); err != nil {
			log.Fatal("Invalid recurring rule", "recurring", *recurring, "error", err)
		}
		recurringPtr = recurring
	default:
		log.Fatal("Invalid task type", "tasktype", *taskType)
	}

	task, err := tasks.BuildScheduledTask(*taskName, args, due, recurringPtr, kind, *maxAttempt)
	if err != nil {
		log.Fatal("Failed to build task", "error", err)
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	db, err := services.InitDB(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("Failed to connect DB", "error", err)
	}

	if err := store.New(db).Insert(context.Background(), task); err != nil {
		log.Fatal("Failed to create task", "error", err)
	}

	fmt.Printf("Successfully created task ID: %d\n", task.ID)
	fmt.Printf("Task: %s\nDue: %s\nType: %s\n", task.TaskName, task.Due, task.TaskType)
}
