// Package seed загружает начальные данные (конфигурация доставки, каталог, остатки) из YAML.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// MovementReason: причина записей журнала склада, созданных сидером.
const MovementReason = "seed"

// StockEntry: начальный остаток варианта.
type StockEntry struct {
	ProductID  string `yaml:"product_id"`
	VariantKey string `yaml:"variant_key"`
	Quantity   int    `yaml:"quantity"`
}

// Document: содержимое seed-файла.
type Document struct {
	Config  *domain.DeliveryConfig `yaml:"config"`
	Catalog []domain.CatalogItem   `yaml:"catalog"`
	Stock   []StockEntry           `yaml:"stock"`
}

// CatalogWriter сохраняет позиции каталога.
type CatalogWriter interface {
	UpsertCatalog(ctx context.Context, items ...domain.CatalogItem) error
}

// Result описывает, что было записано.
type Result struct {
	ConfigWritten bool
	CatalogItems  int
	StockCreated  int
}

// LoadFile читает seed-файл.
func LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Parse разбирает YAML; неизвестные поля считаются ошибкой.
func Parse(data []byte) (Document, error) {
	var doc Document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, fmt.Errorf("decode seed document: %w", err)
	}
	if err := errors.Join(doc.Validate()...); err != nil {
		return Document{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return doc, nil
}

// Validate проверяет документ целиком и возвращает все найденные ошибки.
func (d Document) Validate() []error {
	var errs []error
	if d.Config != nil {
		errs = append(errs, d.Config.Validate()...)
	}
	ids := make(map[string]bool, len(d.Catalog))
	for i, item := range d.Catalog {
		switch {
		case item.ID == "":
			errs = append(errs, fmt.Errorf("catalog[%d]: id is required", i))
		case ids[item.ID]:
			errs = append(errs, fmt.Errorf("catalog[%d]: duplicate id %q", i, item.ID))
		}
		ids[item.ID] = true
		if !item.Kind.Valid() {
			errs = append(errs, fmt.Errorf("catalog[%d]: unsupported kind %q", i, item.Kind))
		}
		if item.Kind == domain.ItemKindBundle && len(item.Components) == 0 {
			errs = append(errs, fmt.Errorf("catalog[%d]: bundle %q has no components", i, item.ID))
		}
	}
	for i, entry := range d.Stock {
		if entry.ProductID == "" {
			errs = append(errs, fmt.Errorf("stock[%d]: product_id is required", i))
		}
		if entry.Quantity < 0 {
			errs = append(errs, fmt.Errorf("stock[%d]: quantity must not be negative", i))
		}
	}
	return errs
}

// Applier записывает документ в хранилище.
type Applier struct {
	store   domain.TxStore
	catalog CatalogWriter
	now     func() time.Time
	logger  *log.Entry
}

// NewApplier создаёт Applier.
func NewApplier(store domain.TxStore, catalog CatalogWriter, logger *log.Entry) *Applier {
	if logger == nil {
		logger = log.New().WithField("component", "seed")
	}
	return &Applier{store: store, catalog: catalog, now: time.Now, logger: logger}
}

// Apply повторно применим: каталог перезаписывается, конфигурация пишется только если её нет,
// остатки заводятся только для отсутствующих вариантов (с записью IN в журнал).
func (a *Applier) Apply(ctx context.Context, doc Document) (Result, error) {
	var result Result

	if len(doc.Catalog) > 0 {
		if err := a.catalog.UpsertCatalog(ctx, doc.Catalog...); err != nil {
			return Result{}, fmt.Errorf("seed catalog: %w", err)
		}
		result.CatalogItems = len(doc.Catalog)
	}

	now := a.now().UTC()
	ids := make([]string, len(doc.Stock))
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	err := a.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		result.ConfigWritten, result.StockCreated = false, 0

		writeConfig := false
		if doc.Config != nil {
			_, err := tx.Config()
			switch {
			case errors.Is(err, domain.ErrConfigMissing):
				writeConfig = true
			case err != nil:
				return err
			}
		}

		missing := make([]int, 0, len(doc.Stock))
		for i, entry := range doc.Stock {
			_, found, err := tx.StockItem(stockRef(entry))
			if err != nil {
				return err
			}
			if !found {
				missing = append(missing, i)
			}
		}

		if writeConfig {
			cfg := *doc.Config
			cfg.UpdatedAt = now
			if err := tx.PutConfig(cfg); err != nil {
				return err
			}
			result.ConfigWritten = true
		}
		for _, i := range missing {
			entry := doc.Stock[i]
			ref := stockRef(entry)
			if err := tx.PutStockItem(domain.StockItem{ProductID: ref.ProductID, VariantKey: ref.VariantKey, Quantity: entry.Quantity, UpdatedAt: now}); err != nil {
				return err
			}
			if err := tx.AppendMovement(domain.InventoryMovement{
				ID:         ids[i],
				ProductID:  ref.ProductID,
				VariantKey: ref.VariantKey,
				Type:       domain.MovementIn,
				Quantity:   entry.Quantity,
				Reason:     MovementReason,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
			result.StockCreated++
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("seed config and stock: %w", err)
	}

	a.logger.WithFields(log.Fields{
		"config_written": result.ConfigWritten,
		"catalog_items":  result.CatalogItems,
		"stock_created":  result.StockCreated,
	}).Info("seed applied")
	return result, nil
}

func stockRef(entry StockEntry) domain.StockRef {
	variant := entry.VariantKey
	if variant == "" {
		variant = domain.DefaultVariantKey
	}
	return domain.StockRef{ProductID: entry.ProductID, VariantKey: variant}
}
