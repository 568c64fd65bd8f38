// Command housebill administers the household billing database.
//
// Commands:
//
//	migrate            Apply database migrations
//	create-accounts    Create the initial chart of accounts
//	add-housemate      Register a housemate and their account
//	add-cost           Define a recurring or one-off cost
//	list-costs         List recurring costs with their splits
//	cost               Disable, enable or re-split a recurring cost
//	populate           Create billing cycles for the configured horizon
//	enact              Enact recurring costs for ended billing cycles
//	reconcile-line     Book a bank statement line against an account
//	reconcile-status   Show enactment and reconciliation per cycle
//	send-reminders     Ask housemates to reconcile pending cycles
//	send-statements    Send housemate statements
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"housebill/internal/cli"
	"housebill/internal/core"
	"housebill/internal/costs"
	"housebill/internal/log"
	"housebill/internal/services"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	cmd := os.Args[1]
	switch cmd {
	case "help", "-h", "--help":
		printUsage()
		return
	}
	if _, ok := commands[cmd]; !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	cfg, logger := cli.LoadConfig(os.Getenv("HOUSEBILL_ENV_FILE"), log.ComponentCLI)

	strategy, err := cfg.Strategy()
	if err != nil {
		logger.Error("Invalid billing cycle strategy", log.FieldError, err)
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	notifier, closeNotifier := cli.InitNotifier(logger, cfg)
	defer closeNotifier()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg:     cfg,
		repo:    repo,
		billing: services.NewBillingService(repo, strategy, cfg.BillingCycleYears, notifier),
		costs:   costs.NewService(repo),
		out:     os.Stdout,
		today:   core.DateOf(time.Now()),
	}
	if err := a.run(ctx, cmd, os.Args[2:]); err != nil {
		logger.Error("Command failed", "command", cmd, log.FieldError, err)
		// os.Exit skips deferred calls
		stop()
		closeNotifier()
		repo.Close()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  housebill <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	for _, name := range commandOrder {
		fmt.Printf("  %-18s %s\n", name, commands[name].summary)
	}
	fmt.Println()
	fmt.Println("Run 'housebill <command> -h' for the options of a command.")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  SQLITE_DB_PATH            Database file (default ./data/housebill.db)")
	fmt.Println("  BILLING_CYCLE_STRATEGY    monthly or weekly")
	fmt.Println("  BILLING_CYCLE_YEARS       Years of cycles to keep ahead")
	fmt.Println("  DEFAULT_CURRENCY          Currency for new accounts")
	fmt.Println("  AMQP_URL                  Broker for notifications (logged when unset)")
	fmt.Println("  HOUSEBILL_ENV_FILE        Env file to load instead of ./.env")
}
