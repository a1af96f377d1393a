// Script to reconcile members against the payment processors from a shell.
// Run with: go run ./cmd/sync-member <user-id>
//       or: go run ./cmd/sync-member --all
// Reads the same environment (or .env file) as the service.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Eldsal/eldsal-sub000/internal/app"
	"github.com/Eldsal/eldsal-sub000/internal/config"
	"github.com/Eldsal/eldsal-sub000/internal/domain"
	"github.com/Eldsal/eldsal-sub000/pkg/identityclient"
	"github.com/Eldsal/eldsal-sub000/pkg/stripeclient"
)

type syncer interface {
	SyncMember(ctx context.Context, memberID string) (app.SyncResult, error)
	SyncAll(ctx context.Context) (*app.SyncReport, error)
}

var errCancelled = errors.New("sync cancelled")

func main() {
	all := flag.Bool("all", false, "reconcile every member")
	yes := flag.Bool("yes", false, "skip the confirmation prompt for --all")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall deadline")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: go run ./cmd/sync-member [--all [--yes]] [<user-id>]")
		flag.PrintDefaults()
	}
	flag.Parse()

	if !*all && flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	service := app.NewService(
		identityclient.NewClient(
			cfg.Auth0BaseURL(),
			identityclient.NewHTTPClient(ctx, cfg.Auth0Domain, cfg.Auth0ClientID, cfg.Auth0ClientSecret),
		),
		map[domain.Flavour]app.PaymentProcessor{
			domain.FlavourMembership: stripeclient.NewClient(domain.FlavourMembership, cfg.StripeMembershipSecretKey),
			domain.FlavourHouseCard:  stripeclient.NewClient(domain.FlavourHouseCard, cfg.StripeHouseCardSecretKey),
		},
		app.Options{
			Logger:      logger,
			MemberDelay: time.Duration(cfg.SyncMemberDelayMS) * time.Millisecond,
		},
	)

	if *all {
		err = syncAll(ctx, service, os.Stdin, os.Stdout, *yes)
	} else {
		err = syncOne(ctx, service, os.Stdout, flag.Arg(0))
	}
	if errors.Is(err, errCancelled) {
		fmt.Println("Sync cancelled.")
		return
	}
	if err != nil {
		log.Fatalf("Sync failed: %v", err)
	}
}

func syncOne(ctx context.Context, s syncer, out io.Writer, memberID string) error {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return errors.New("user id is required")
	}

	fmt.Fprintf(out, "Syncing member %s\n", memberID)
	result, err := s.SyncMember(ctx, memberID)
	if err != nil {
		return err
	}

	for _, f := range domain.Flavours {
		p := result.Payments[f]
		status := "unchanged"
		if result.Updated[f] {
			status = "updated"
		}
		fmt.Fprintf(out, "  %-10s %-9s paid=%t period_end=%s method=%s\n", f, status, p.Paid, orDash(p.PeriodEnd), orDash(p.Method))
	}
	return nil
}

func syncAll(ctx context.Context, s syncer, in io.Reader, out io.Writer, skipConfirm bool) error {
	if !skipConfirm {
		fmt.Fprint(out, "This writes payment data for every member. Continue? (yes/no): ")
		answer, _ := bufio.NewReader(in).ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			return errCancelled
		}
	}

	report, err := s.SyncAll(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d of %d members failed", len(report.Failures), report.Members)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
