// Command uow-smoke drives a few unit-of-work cycles against the backend,
// journal and metrics exporter selected by UOW_* environment variables and
// prints one JSON report per cycle.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"unitofwork/internal/config"
	"unitofwork/internal/core"
	"unitofwork/pkg/domain"
)

// Demo aggregates: orders own their lines and reference a customer aggregate.
var (
	Customer = domain.MustClass("Customer",
		domain.Value("email", domain.TypeString),
	)
	Order = domain.MustClass("Order",
		domain.Value("status", domain.TypeString),
		domain.Reference("customer", "Customer"),
		domain.Children("lines", "OrderLine"),
	)
	OrderLine = domain.MustClass("OrderLine",
		domain.Parent("order", "Order"),
		domain.Value("sku", domain.TypeString),
		domain.Value("quantity", domain.TypeInt),
	)
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("uow-smoke", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cycles int
	fs.IntVar(&cycles, "cycles", 1, "number of insert/update/rollback cycles to run")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if cycles < 1 {
		_, _ = fmt.Fprintln(stderr, "cycles must be at least 1")
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	if err := run(context.Background(), cfg, cycles, stdout, logger); err != nil {
		logger.Error("smoke run failed", "error", err)
		return 1
	}
	return 0
}

// report is the JSON line printed for each cycle.
type report struct {
	Cycle        int    `json:"cycle"`
	OrderID      int64  `json:"order_id"`
	CustomerID   int64  `json:"customer_id"`
	Version      int64  `json:"version"`
	Status       string `json:"status"`
	Quantity     int64  `json:"quantity"`
	RolledBack   bool   `json:"rolled_back"`
	JournalCount int    `json:"journal_entries,omitempty"`
}

type journalLister interface {
	List(ctx context.Context, transactionID string) ([]string, error)
}

func run(ctx context.Context, cfg config.Config, cycles int, stdout io.Writer, logger *slog.Logger) (err error) {
	backend, err := core.OpenBackend(ctx, cfg, Customer, Order, OrderLine)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close backend: %w", cerr)
		}
	}()
	j, err := core.OpenJournal(ctx, cfg)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	metrics, err := core.OpenMetrics(cfg, reg)
	if err != nil {
		return err
	}
	svc, err := core.NewService(backend, core.OptionsFrom(cfg, logger, metrics, j)...)
	if err != nil {
		return err
	}
	logger.Info("smoke run starting",
		"storage", string(cfg.StorageDriver), "journal", string(cfg.JournalDriver), "metrics", string(cfg.Metrics))

	enc := json.NewEncoder(stdout)
	for i := 1; i <= cycles; i++ {
		rep, err := cycle(ctx, svc, i)
		if err != nil {
			return fmt.Errorf("cycle %d: %w", i, err)
		}
		if lister, ok := j.(journalLister); ok {
			keys, err := lister.List(ctx, "")
			if err != nil {
				return fmt.Errorf("list journal: %w", err)
			}
			rep.JournalCount = len(keys)
		}
		if err := enc.Encode(rep); err != nil {
			return err
		}
	}
	if cfg.Metrics == config.MetricsPrometheus {
		families, err := reg.Gather()
		if err != nil {
			return fmt.Errorf("gather metrics: %w", err)
		}
		logger.Info("metrics gathered", "families", len(families))
	}
	return nil
}

// cycle inserts an order whose customer is left unregistered, updates a line,
// then changes the order status and rolls that change back.
func cycle(ctx context.Context, svc *core.Service, n int) (report, error) {
	customer := domain.New(Customer).MustSet("email", fmt.Sprintf("customer-%d@example.com", n))
	order := domain.New(Order).MustSet("status", "open")
	if err := order.SetReference("customer", customer); err != nil {
		return report{}, err
	}
	line := domain.New(OrderLine).MustSet("sku", fmt.Sprintf("sku-%d", n)).MustSet("quantity", 1)
	if err := order.AddChild("lines", line); err != nil {
		return report{}, err
	}

	err := svc.Run(ctx, func(tx *core.Transaction) error {
		return errors.Join(tx.RegisterNew(order), tx.RegisterNew(line))
	})
	if err != nil {
		return report{}, fmt.Errorf("insert: %w", err)
	}

	err = svc.Run(ctx, func(tx *core.Transaction) error {
		if err := tx.RegisterDirty(line); err != nil {
			return err
		}
		return line.Set("quantity", 3)
	})
	if err != nil {
		return report{}, fmt.Errorf("update: %w", err)
	}

	tx, err := svc.Begin()
	if err != nil {
		return report{}, err
	}
	if err := tx.RegisterDirty(order); err != nil {
		return report{}, errors.Join(err, tx.Abort())
	}
	order.MustSet("status", "cancelled")
	if err := tx.Rollback(); err != nil {
		return report{}, errors.Join(err, tx.Abort())
	}
	if err := tx.Complete(); err != nil {
		return report{}, err
	}

	orderID, _ := order.ID()
	customerID, _ := customer.ID()
	rec, err := svc.Fetch(ctx, Order, orderID)
	if err != nil {
		return report{}, fmt.Errorf("fetch: %w", err)
	}
	lineRec, err := svc.Fetch(ctx, OrderLine, idOf(line))
	if err != nil {
		return report{}, fmt.Errorf("fetch line: %w", err)
	}
	status, _ := rec.Values["status"].(string)
	quantity, _ := lineRec.Values["quantity"].(int64)
	return report{
		Cycle:      n,
		OrderID:    orderID,
		CustomerID: customerID,
		Version:    order.Version().Version(),
		Status:     status,
		Quantity:   quantity,
		RolledBack: order.Get("status") == "open",
	}, nil
}

func idOf(obj *domain.Object) int64 {
	id, _ := obj.ID()
	return id
}
