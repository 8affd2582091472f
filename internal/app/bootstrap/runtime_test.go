package bootstrap

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/wolfman30/clinic-portal/internal/billing"
	"github.com/wolfman30/clinic-portal/internal/clinic"
	appconfig "github.com/wolfman30/clinic-portal/internal/config"
	"github.com/wolfman30/clinic-portal/internal/notify"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

func quietLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, "error", "json")
}

func TestBuildRedisClientDisabledWithoutAddr(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, quietLogger(), true); client != nil {
		t.Fatalf("expected nil client without REDIS_ADDR")
	}
	if client := BuildRedisClient(context.Background(), nil, quietLogger(), false); client != nil {
		t.Fatalf("expected nil client for nil config")
	}
}

func TestBuildRedisClientVerifies(t *testing.T) {
	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, quietLogger(), true)
	if client == nil {
		t.Fatalf("expected client when redis is reachable")
	}
	defer client.Close()

	store := BuildClinicStore(client, &appconfig.Config{})
	cfg, err := store.Get(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cfg.WorkStart != 9 || cfg.WorkEnd != 17 || cfg.SlotMinutes != 30 {
		t.Fatalf("expected standard defaults, got %+v", cfg)
	}

	if client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: "127.0.0.1:1"}, quietLogger(), true); client != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestClinicDefaults(t *testing.T) {
	got := ClinicDefaults(&appconfig.Config{
		DefaultWorkStart:   8,
		DefaultWorkEnd:     20,
		DefaultSlotMinutes: 15,
		ReminderLeadTime:   2 * time.Hour,
	})
	want := clinic.Defaults{WorkStart: 8, WorkEnd: 20, SlotMinutes: 15, ReminderLeadHours: 2}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if got := ClinicDefaults(nil); got != clinic.StandardDefaults {
		t.Fatalf("expected standard defaults, got %+v", got)
	}
}

func TestOpenDatabasesRequiresURL(t *testing.T) {
	if _, _, err := OpenDatabases(context.Background(), &appconfig.Config{}); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestBuildPriceTable(t *testing.T) {
	prices := BuildPriceTable(&appconfig.Config{StripePriceBasic: "price_b", StripePricePro: "price_p"})
	if plan, ok := prices.PlanFor("price_p"); !ok || plan != billing.PlanPro {
		t.Fatalf("expected pro plan, got %q %v", plan, ok)
	}
	if _, ok := prices.PlanFor(""); ok {
		t.Fatalf("empty price ids must not match")
	}
}

func TestBuildDeliveryHandlerInProcess(t *testing.T) {
	dispatcher := notify.NewDispatcher(notify.NewNotificationStoreWithDB(nil), nil, nil, quietLogger())
	handler := BuildDeliveryHandler(&appconfig.Config{}, dispatcher, nil, quietLogger())
	if handler != dispatcher {
		t.Fatalf("expected the dispatcher without a queue url, got %T", handler)
	}
}

func TestBuildEmailSenderRetries(t *testing.T) {
	sender := BuildEmailSender(&appconfig.Config{EmailProvider: "stub", EmailRetries: 2}, nil, nil, quietLogger())
	if _, ok := sender.(*notify.RetryingSender); !ok {
		t.Fatalf("expected retrying sender, got %T", sender)
	}
	if err := sender.Send(context.Background(), notify.EmailMessage{To: "a@example.com", Subject: "hi", Body: "hello"}); err != nil {
		t.Fatalf("stub send: %v", err)
	}
}

func TestBuildDocumentStoreDisabled(t *testing.T) {
	store := BuildDocumentStore(&appconfig.Config{}, nil, nil, quietLogger())
	if store.Enabled() {
		t.Fatalf("expected disabled store without bucket")
	}
}
