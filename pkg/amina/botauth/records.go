package botauth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aminahq/amina-api/pkg/amina/kv"
	"github.com/rs/zerolog"
)

const (
	// VerificationTTL bounds how long a locally cached credential check
	// is trusted before the provider is consulted again.
	VerificationTTL = time.Hour

	// StatsTTL lets pushed stats expire on their own; an absent stats
	// record means the bot is offline.
	StatsTTL = 5 * time.Minute

	// OnlineWindow is how recent a heartbeat must be for a bot to be
	// reported online.
	OnlineWindow = 2 * time.Minute
)

// AuthRecord is the sole source of truth for "is this bot registered".
type AuthRecord struct {
	SecretHash            string    `json:"secret_hash"`
	RegisteredAt          time.Time `json:"registered_at"`
	LastVerifiedAt        time.Time `json:"last_verified_at"`
	VerificationExpiresAt time.Time `json:"verification_expires_at"`
	OwnerID               string    `json:"owner_id"`
}

// Meta is the public-safe bot record. It is derived data and may be
// deleted independently without invalidating registration.
type Meta struct {
	ClientID      string    `json:"client_id"`
	Name          string    `json:"name"`
	Avatar        string    `json:"avatar,omitempty"`
	OwnerID       string    `json:"owner_id"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastSeen      time.Time `json:"last_seen"`
	Version       string    `json:"version,omitempty"`
	InviteURL     string    `json:"invite_url,omitempty"`
	SupportServer string    `json:"support_server,omitempty"`
	Website       string    `json:"website,omitempty"`
	IsPublic      bool      `json:"is_public"`
	Features      []string  `json:"features,omitempty"`
}

// Stats is the ephemeral operational snapshot a bot pushes.
type Stats struct {
	Guilds      int       `json:"guilds"`
	Members     int       `json:"members"`
	Channels    int       `json:"channels"`
	Commands    int       `json:"commands"`
	Ping        int       `json:"ping"`
	Uptime      int64     `json:"uptime"`
	Status      string    `json:"status,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// Command is one declared bot command.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// CommandCatalog is the declared command list, regenerated wholesale on
// each push.
type CommandCatalog struct {
	Commands      []Command `json:"commands"`
	Categories    []string  `json:"categories"`
	TotalCommands int       `json:"total_commands"`
	LastUpdated   time.Time `json:"last_updated"`
}

func authKey(clientID string) string     { return "bot:" + clientID + ":auth" }
func metaKey(clientID string) string     { return "bot:" + clientID + ":meta" }
func statsKey(clientID string) string    { return "bot:" + clientID + ":stats" }
func commandsKey(clientID string) string { return "bot:" + clientID + ":commands" }

// RecordStore reads and writes bot records in the shared key-value store.
type RecordStore struct {
	kv  kv.Store
	log zerolog.Logger

	now func() time.Time
}

// NewRecordStore creates a record store over the given kv backend.
func NewRecordStore(store kv.Store, log zerolog.Logger) *RecordStore {
	return &RecordStore{kv: store, log: log, now: time.Now}
}

// GetAuth loads the auth record. A corrupted record is logged, purged so
// re-registration is possible, and reported as not registered.
func (r *RecordStore) GetAuth(ctx context.Context, clientID string) (*AuthRecord, error) {
	raw, found, err := r.kv.Get(ctx, authKey(clientID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var rec AuthRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		r.log.Error().Err(err).Str("client_id", clientID).Msg("corrupted bot auth record, purging")
		_ = r.kv.Delete(ctx, authKey(clientID))
		return nil, nil
	}
	return &rec, nil
}

// PutAuth stores the auth record with no expiry.
func (r *RecordStore) PutAuth(ctx context.Context, clientID string, rec *AuthRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.kv.Put(ctx, authKey(clientID), string(raw), 0)
}

// GetMeta loads the public metadata record, nil when absent or unreadable.
func (r *RecordStore) GetMeta(ctx context.Context, clientID string) (*Meta, error) {
	raw, found, err := r.kv.Get(ctx, metaKey(clientID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var meta Meta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		r.log.Error().Err(err).Str("client_id", clientID).Msg("corrupted bot meta record")
		return nil, nil
	}
	return &meta, nil
}

// PutMeta stores the metadata record, pinning the client id.
func (r *RecordStore) PutMeta(ctx context.Context, clientID string, meta *Meta) error {
	meta.ClientID = clientID
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return r.kv.Put(ctx, metaKey(clientID), string(raw), 0)
}

// Heartbeat bumps the bot's lastSeen timestamp.
func (r *RecordStore) Heartbeat(ctx context.Context, clientID string) error {
	meta, err := r.GetMeta(ctx, clientID)
	if err != nil {
		return err
	}
	if meta == nil {
		return ErrNotRegistered
	}
	meta.LastSeen = r.now()
	return r.PutMeta(ctx, clientID, meta)
}

// GetStats loads the stats record; nil means the bot is offline.
func (r *RecordStore) GetStats(ctx context.Context, clientID string) (*Stats, error) {
	raw, found, err := r.kv.Get(ctx, statsKey(clientID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var stats Stats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		r.log.Error().Err(err).Str("client_id", clientID).Msg("corrupted bot stats record")
		return nil, nil
	}
	return &stats, nil
}

// PutStats stores a stats snapshot with a short TTL and bumps the
// heartbeat. The TTL means stale stats disappear without cleanup.
func (r *RecordStore) PutStats(ctx context.Context, clientID string, stats *Stats) error {
	stats.LastUpdated = r.now()
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	if err := r.kv.Put(ctx, statsKey(clientID), string(raw), StatsTTL); err != nil {
		return err
	}
	return r.Heartbeat(ctx, clientID)
}

// GetCommands loads the declared command catalog.
func (r *RecordStore) GetCommands(ctx context.Context, clientID string) (*CommandCatalog, error) {
	raw, found, err := r.kv.Get(ctx, commandsKey(clientID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var catalog CommandCatalog
	if err := json.Unmarshal([]byte(raw), &catalog); err != nil {
		r.log.Error().Err(err).Str("client_id", clientID).Msg("corrupted bot commands record")
		return nil, nil
	}
	return &catalog, nil
}

// PutCommands replaces the command catalog wholesale, deriving the
// category list and count.
func (r *RecordStore) PutCommands(ctx context.Context, clientID string, commands []Command) error {
	seen := make(map[string]bool)
	var categories []string
	for _, cmd := range commands {
		if cmd.Category != "" && !seen[cmd.Category] {
			seen[cmd.Category] = true
			categories = append(categories, cmd.Category)
		}
	}

	catalog := CommandCatalog{
		Commands:      commands,
		Categories:    categories,
		TotalCommands: len(commands),
		LastUpdated:   r.now(),
	}

	raw, err := json.Marshal(catalog)
	if err != nil {
		return err
	}
	return r.kv.Put(ctx, commandsKey(clientID), string(raw), 0)
}

// ListMeta enumerates bot metadata records via prefix listing.
func (r *RecordStore) ListMeta(ctx context.Context, publicOnly bool, ownerID string) ([]Meta, error) {
	keys, err := r.kv.List(ctx, "bot:")
	if err != nil {
		return nil, err
	}

	var bots []Meta
	for _, key := range keys {
		if len(key) < len(":meta") || key[len(key)-len(":meta"):] != ":meta" {
			continue
		}
		raw, found, err := r.kv.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		var meta Meta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			continue
		}
		if publicOnly && !meta.IsPublic {
			continue
		}
		if ownerID != "" && meta.OwnerID != ownerID {
			continue
		}
		bots = append(bots, meta)
	}
	return bots, nil
}

// Online reports whether a bot has a recent heartbeat.
func (r *RecordStore) Online(meta *Meta) bool {
	if meta == nil || meta.LastSeen.IsZero() {
		return false
	}
	return r.now().Sub(meta.LastSeen) < OnlineWindow
}
