package notification

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

const DefaultLanguage = "en"

//go:embed defaults/messages.yaml
var defaultMessages []byte

// Catalog resolves localised message templates. Embedded defaults are
// overlaid with rows from the translations table on every reload.
type Catalog struct {
	db  *gorm.DB
	log *zap.Logger

	defaults map[string]map[string]string

	mu       sync.RWMutex
	messages map[string]map[string]string
}

func NewCatalog(db *gorm.DB, log *zap.Logger) (*Catalog, error) {
	defaults, err := parseMessages(defaultMessages)
	if err != nil {
		return nil, fmt.Errorf("parse default messages: %w", err)
	}
	return &Catalog{
		db:       db,
		log:      log.Named("notification.catalog"),
		defaults: defaults,
		messages: cloneMessages(defaults),
	}, nil
}

func parseMessages(raw []byte) (map[string]map[string]string, error) {
	out := map[string]map[string]string{}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type translationRow struct {
	LanguageID string
	Key        string
	Value      string
}

// Load is Reload under the name used at startup.
func (c *Catalog) Load(ctx context.Context) error {
	return c.Reload(ctx)
}

// Reload rebuilds the catalog from the embedded defaults and the
// translations table. On error the previous catalog stays in place.
func (c *Catalog) Reload(ctx context.Context) error {
	var rows []translationRow
	if c.db != nil {
		err := c.db.WithContext(ctx).Raw(
			`SELECT language_id, key, value FROM translations`,
		).Scan(&rows).Error
		if err != nil {
			return fmt.Errorf("load translations: %w", err)
		}
	}

	next := cloneMessages(c.defaults)
	for _, row := range rows {
		lang := strings.ToLower(strings.TrimSpace(row.LanguageID))
		key := strings.TrimSpace(row.Key)
		if lang == "" || key == "" {
			continue
		}
		if next[lang] == nil {
			next[lang] = map[string]string{}
		}
		next[lang][key] = row.Value
	}

	c.mu.Lock()
	c.messages = next
	c.mu.Unlock()

	c.log.Debug("catalog reloaded", zap.Int("languages", len(next)), zap.Int("overrides", len(rows)))
	return nil
}

// Translate returns the template for key in lang with {{name}} placeholders
// replaced from vars. It falls back to the default language, then to the
// key itself.
func (c *Catalog) Translate(lang, key string, vars map[string]string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))

	c.mu.RLock()
	template, ok := c.messages[lang][key]
	if !ok {
		template, ok = c.messages[DefaultLanguage][key]
	}
	c.mu.RUnlock()

	if !ok {
		template = key
	}
	return substitute(template, vars)
}

func substitute(template string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(template, "{{") {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{{"+name+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func cloneMessages(in map[string]map[string]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(in))
	for lang, entries := range in {
		copied := make(map[string]string, len(entries))
		for k, v := range entries {
			copied[k] = v
		}
		out[lang] = copied
	}
	return out
}
