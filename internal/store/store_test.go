package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"whatsapp-compliance-gateway/internal/models"
)

func newTestStores(t *testing.T) *Stores {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Account{},
		&models.ClientApp{},
		&models.Profile{},
		&models.ProfileConsent{},
		&models.ConsentLog{},
		&models.OptOutKeyword{},
		&models.ConsentCategory{},
		&models.ConversationRoute{},
		&models.Message{},
		&models.ComplianceSettings{},
		&models.Template{},
		&models.WebhookLog{},
	))
	return New(db)
}

func TestRouteUpsertOverwritesInPlace(t *testing.T) {
	s := newTestStores(t)
	now := time.Now()

	require.NoError(t, s.Routes.Upsert(1, "15550001111", "crm", 10, now))
	require.NoError(t, s.Routes.Upsert(1, "15550001111", "support", 11, now.Add(time.Minute)))
	require.NoError(t, s.Routes.Upsert(2, "15550001111", "crm", 12, now))

	route, err := s.Routes.Get(1, "15550001111")
	require.NoError(t, err)
	require.NotNil(t, route)
	assert.Equal(t, "support", route.LastSourceApp)
	assert.Equal(t, uint(11), route.LastOutgoingMessageID)

	// Same contact on a different account is a separate route.
	other, err := s.Routes.Get(2, "15550001111")
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, "crm", other.LastSourceApp)
}

func TestRouteGetMissingReturnsNil(t *testing.T) {
	s := newTestStores(t)

	route, err := s.Routes.Get(1, "15550001111")
	require.NoError(t, err)
	assert.Nil(t, route)
}

func TestExistsByProviderID(t *testing.T) {
	s := newTestStores(t)
	require.NoError(t, s.Messages.Create(&models.Message{
		ProviderMessageID: "wamid.1", Direction: models.DirectionIncoming,
	}))

	exists, err := s.Messages.ExistsByProviderID("wamid.1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.Messages.ExistsByProviderID("wamid.2")
	require.NoError(t, err)
	assert.False(t, exists)

	// Outgoing rows without a provider id never collide with each other.
	exists, err = s.Messages.ExistsByProviderID("")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLastIncomingAtScopesDirectionAndAccount(t *testing.T) {
	s := newTestStores(t)

	require.NoError(t, s.Messages.Create(&models.Message{
		Direction: models.DirectionOutgoing, From: "15550001111", AccountID: 1,
	}))
	require.NoError(t, s.Messages.Create(&models.Message{
		Direction: models.DirectionIncoming, From: "15550001111", AccountID: 1,
	}))

	at, err := s.Messages.LastIncomingAt("15550001111", 1)
	require.NoError(t, err)
	assert.NotNil(t, at)

	at, err = s.Messages.LastIncomingAt("15550001111", 2)
	require.NoError(t, err)
	assert.Nil(t, at)

	at, err = s.Messages.LastIncomingAt("15559999999", 1)
	require.NoError(t, err)
	assert.Nil(t, at)
}

func TestUpdateDeliveryStatusUnknownIDIsNoop(t *testing.T) {
	s := newTestStores(t)

	assert.NoError(t, s.Messages.UpdateDeliveryStatus("wamid.unknown", "delivered", ""))
}

func TestSettingsDefaultsWhenUnconfigured(t *testing.T) {
	s := newTestStores(t)

	settings, err := s.Settings.Settings()
	require.NoError(t, err)
	assert.True(t, settings.EnforceConsentCheck)
	assert.Equal(t, models.ModeStrict, settings.ConsentCheckMode)
	assert.Equal(t, 24, settings.WindowHours)
}

func TestProfileGetOrCreateIsIdempotent(t *testing.T) {
	s := newTestStores(t)

	first, err := s.Profiles.GetOrCreate("+1 (555) 000-1111", "Ada", 1)
	require.NoError(t, err)
	second, err := s.Profiles.GetOrCreate("15550001111", "", 1)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "15550001111", first.Number)
}

func TestProfileGetOrCreateRefreshesName(t *testing.T) {
	s := newTestStores(t)

	_, err := s.Profiles.GetOrCreate("15550001111", "Ada", 1)
	require.NoError(t, err)

	// WhatsApp display names change; a newer non-empty name wins.
	updated, err := s.Profiles.GetOrCreate("15550001111", "Ada Lovelace", 1)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", updated.ProfileName)

	reloaded, err := s.Profiles.ByNumber("15550001111")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", reloaded.ProfileName)

	// An empty name never wipes the stored one.
	kept, err := s.Profiles.GetOrCreate("15550001111", "", 1)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", kept.ProfileName)
}

func TestEnabledOptOutKeywordsScoping(t *testing.T) {
	s := newTestStores(t)

	require.NoError(t, s.Keywords.Create(&models.OptOutKeyword{
		Keyword: "stop", MatchType: models.MatchExact, IsEnabled: true, AccountID: 0,
	}))
	require.NoError(t, s.Keywords.Create(&models.OptOutKeyword{
		Keyword: "parar", MatchType: models.MatchExact, IsEnabled: true, AccountID: 2,
	}))
	require.NoError(t, s.Keywords.Create(&models.OptOutKeyword{
		Keyword: "halt", MatchType: models.MatchExact, IsEnabled: false, AccountID: 0,
	}))

	kws, err := s.Keywords.EnabledOptOutKeywords(1)
	require.NoError(t, err)
	require.Len(t, kws, 1)
	assert.Equal(t, "stop", kws[0].Keyword)

	kws, err = s.Keywords.EnabledOptOutKeywords(2)
	require.NoError(t, err)
	assert.Len(t, kws, 2)
}
