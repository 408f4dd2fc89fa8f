package routing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"whatsapp-compliance-gateway/internal/models"
	"whatsapp-compliance-gateway/internal/phone"
	pkgmodels "whatsapp-compliance-gateway/pkg/models"
)

// RouteStore persists (account, contact) -> last sender app associations.
type RouteStore interface {
	Upsert(accountID uint, contactNumber, sourceApp string, messageID uint, at time.Time) error
	Get(accountID uint, contactNumber string) (*models.ConversationRoute, error)
}

// AppSource resolves client applications by app id.
type AppSource interface {
	ByAppID(appID string) (*models.ClientApp, error)
}

// Router tracks which client application last handled a contact and forwards
// inbound traffic to it.
type Router struct {
	routes RouteStore
	apps   AppSource
	client *http.Client
	now    func() time.Time
}

func NewRouter(routes RouteStore, apps AppSource) *Router {
	return &Router{
		routes: routes,
		apps:   apps,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// SetLastSenderApp upserts the route for the pair. A no-op when the account,
// number, or app is absent.
func (r *Router) SetLastSenderApp(accountID uint, toNumber, sourceApp string, messageID uint) error {
	contact := phone.Normalize(toNumber)
	if accountID == 0 || contact == "" || sourceApp == "" {
		return nil
	}
	return r.routes.Upsert(accountID, contact, sourceApp, messageID, r.now())
}

// GetLastSenderApp returns the app id that last messaged the contact on the
// account, or "" when no route is recorded.
func (r *Router) GetLastSenderApp(accountID uint, contactNumber string) (string, error) {
	contact := phone.Normalize(contactNumber)
	if accountID == 0 || contact == "" {
		return "", nil
	}
	route, err := r.routes.Get(accountID, contact)
	if err != nil || route == nil {
		return "", err
	}
	return route.LastSourceApp, nil
}

// ForwardIncoming posts an incoming message to the routed client app's
// inbound webhook. Fire-and-forget semantics: the caller logs the returned
// error but never escalates it.
func (r *Router) ForwardIncoming(msg *models.Message, account *models.Account) error {
	if msg == nil || msg.RoutedApp == "" {
		return nil
	}

	app, err := r.apps.ByAppID(msg.RoutedApp)
	if err != nil {
		return err
	}
	if app == nil || !app.Enabled || app.InboundWebhookURL == "" {
		return nil
	}

	accountName := ""
	if account != nil {
		accountName = account.Name
	}

	envelope := pkgmodels.ForwardEnvelope{
		Event: "whatsapp.incoming",
		Message: pkgmodels.ForwardMessage{
			Name:            msg.ProfileName,
			From:            msg.From,
			To:              msg.To,
			WhatsAppAccount: accountName,
			ContentType:     msg.ContentType,
			Message:         msg.Body,
			MessageID:       msg.ProviderMessageID,
			Timestamp:       strconv.FormatInt(msg.CreatedAt.Unix(), 10),
		},
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	resp, err := r.client.Post(app.InboundWebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("app %s returned %s", app.AppID, resp.Status)
	}
	return nil
}
