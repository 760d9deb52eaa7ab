package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/alextavares/aichat-sub001/internal/adapter/postgres"
	"github.com/alextavares/aichat-sub001/internal/config"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/credit"
	"github.com/alextavares/aichat-sub001/internal/service"
)

// runAdmin dispatches admin subcommands (grant, balance, models, migrate).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "grant":
		return runAdminGrant(args[1:])
	case "balance":
		return runAdminBalance(args[1:])
	case "models":
		return runAdminModels(args[1:])
	case "migrate":
		return runAdminMigrate(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: gateway admin <command> [options]

Commands:
  grant      Add credits to a user's balance
  balance    Show a user's balance and recent transactions
  models     List the model catalog
  migrate    Apply or roll back database migrations
  help       Show this help message

Examples:
  gateway admin grant --user u_123 --amount 500 --description "support credit"
  gateway admin grant --user u_123 --amount 1000 --type purchase --ref-id ord_9 --ref-type order
  gateway admin balance --user u_123 --limit 20
  gateway admin models --plan pro
  gateway admin migrate --down 1
`)
}

func loadAdminLedger(ctx context.Context) (*service.LedgerService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(ctx, cfg, false)
	if err != nil {
		return nil, nil, err
	}
	return service.NewLedgerService(store, nil), store.Close, nil
}

func runAdminGrant(args []string) error {
	fs := flag.NewFlagSet("grant", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (required)")
	amount := fs.Int64("amount", 0, "credits to add (required, > 0)")
	typ := fs.String("type", string(credit.TypeGrant), "grant, purchase or refund")
	desc := fs.String("description", "admin grant", "transaction description")
	refID := fs.String("ref-id", "", "external reference id")
	refType := fs.String("ref-type", "", "external reference type")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == "" {
		return fmt.Errorf("--user is required")
	}
	if *amount <= 0 {
		return fmt.Errorf("--amount must be positive")
	}

	if !*yes {
		ok, err := confirm(fmt.Sprintf("Add %d %s credits to %s?", *amount, *typ, *userID))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	var ref *credit.Reference
	if *refID != "" || *refType != "" {
		ref = &credit.Reference{ID: *refID, Type: *refType}
	}

	ctx := context.Background()
	ledger, cleanup, err := loadAdminLedger(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	bal, err := ledger.Add(ctx, *userID, *amount, *desc, credit.Type(*typ), ref)
	if err != nil {
		return fmt.Errorf("grant: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Balance for %s is now %d\n", *userID, bal)
	return nil
}

func runAdminBalance(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (required)")
	limit := fs.Int("limit", 10, "number of recent transactions to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == "" {
		return fmt.Errorf("--user is required")
	}

	ctx := context.Background()
	ledger, cleanup, err := loadAdminLedger(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	bal, err := ledger.Balance(ctx, *userID)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	fmt.Printf("%s: %d credits\n", bal.UserID, bal.Balance)

	txs, err := ledger.Transactions(ctx, *userID, 0)
	if err != nil {
		return fmt.Errorf("transactions: %w", err)
	}
	if len(txs) == 0 {
		return nil
	}
	if *limit > 0 && len(txs) > *limit {
		txs = txs[len(txs)-*limit:]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "\nCREATED\tTYPE\tAMOUNT\tBEFORE\tAFTER\tDESCRIPTION")
	for i := range txs {
		tx := &txs[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%+d\t%d\t%d\t%s\n",
			tx.CreatedAt.Format("2006-01-02 15:04:05"), tx.Type, tx.Amount, tx.BalanceBefore, tx.BalanceAfter, tx.Description)
	}
	return w.Flush()
}

func runAdminModels(args []string) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	plan := fs.String("plan", "", "only list models available on this plan")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cat := catalog.Default()
	models := cat.All()
	if *plan != "" {
		p, err := catalog.ParsePlan(*plan)
		if err != nil {
			return err
		}
		models = cat.ListForPlan(p)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCATEGORY\tPLAN\tCREDITS IN/OUT\tBACKENDS\tAVAILABLE")
	for i := range models {
		m := &models[i]
		backends := make([]string, 0, len(m.Backends()))
		for _, b := range m.Backends() {
			backends = append(backends, string(b))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s/%s\t%s\t%t\n",
			m.ID, m.Category, m.PlanRequired, m.CreditPerInputToken, m.CreditPerOutputToken,
			strings.Join(backends, ","), m.Available)
	}
	_, _ = fmt.Fprintf(w, "\ncatalog version %s\n", cat.Version())
	return w.Flush()
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	down := fs.Int("down", 0, "roll back this many migrations instead of applying")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	if cfg.Store.Driver != "postgres" {
		// The embedded store migrates on open.
		store, err := openStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		store.Close()
		if *down > 0 {
			return fmt.Errorf("rollback is only supported for postgres")
		}
		fmt.Fprintf(os.Stderr, "%s store is up to date\n", cfg.Store.Driver)
		return nil
	}

	if *down > 0 {
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *down); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
	} else if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Schema version: %d\n", v)
	return nil
}

// confirm asks a yes/no question on the terminal. Non-interactive stdin
// is refused so scripts must pass --yes explicitly.
func confirm(question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("stdin is not a terminal; pass --yes to confirm")
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read answer: %w", err)
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}
