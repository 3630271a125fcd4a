// Package metadata builds ERC-1155 metadata documents for reward tokens and
// publishes them to a blob store.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/neodrop/internal/domain/attributes"
	"github.com/okian/neodrop/internal/domain/chain"
	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/pkg/logger"
)

// ErrEmptyKey is returned by blob stores for an empty object key.
var ErrEmptyKey = errors.New("empty object key")

// ContentType of published documents.
const ContentType = "application/json"

// BlobStore stores an object and returns the URL it can be read from.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Trait is one entry of the metadata attributes list.
type Trait struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// Document is the ERC-1155 metadata JSON.
type Document struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Image       string  `json:"image,omitempty"`
	Attributes  []Trait `json:"attributes"`
}

// ImageName selects the pre-rendered layer combination for attrs.
func ImageName(attrs attributes.Attributes) string {
	return fmt.Sprintf("%s_%s_%s.png", attrs.Velocity, attrs.Range, attrs.Size)
}

// Build assembles the document for neo. imageBaseURL may be empty, in which
// case the document has no image.
func Build(neo model.NEO, attrs attributes.Attributes, imageBaseURL string) Document {
	doc := Document{
		Name: neo.Name,
		Description: fmt.Sprintf("Reward for near-earth object %s, closest approach %s.",
			neo.ID, neo.CloseApproach.UTC().Format(time.RFC3339)),
		Attributes: []Trait{
			{TraitType: "neo_id", Value: neo.ID},
			{TraitType: string(attributes.Size), Value: attrs.Size},
			{TraitType: string(attributes.Range), Value: attrs.Range},
			{TraitType: string(attributes.Velocity), Value: attrs.Velocity},
			{TraitType: "size_feet", Value: neo.SizeFeet},
			{TraitType: "range_miles", Value: neo.RangeMiles},
			{TraitType: "velocity_mph", Value: neo.VelocityMPH},
		},
	}
	if imageBaseURL != "" {
		doc.Image = strings.TrimRight(imageBaseURL, "/") + "/" + ImageName(attrs)
	}
	return doc
}

// Key is the object key of a NEO's document: the token id as 64 lowercase hex
// digits, which is what ERC-1155 clients substitute for {id}.
func Key(neoID string) string {
	return fmt.Sprintf("%064x.json", chain.TokenID(neoID))
}

// Publisher implements reward.Publisher over a BlobStore.
type Publisher struct {
	store        BlobStore
	imageBaseURL string
	log          logger.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithImageBaseURL sets where the pre-rendered images are served from.
func WithImageBaseURL(u string) Option {
	return func(p *Publisher) { p.imageBaseURL = u }
}

// WithLogger sets the publisher logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPublisher creates a publisher writing to store.
func NewPublisher(store BlobStore, opts ...Option) *Publisher {
	p := &Publisher{store: store, log: logger.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish stores neo's document and returns its URL.
func (p *Publisher) Publish(ctx context.Context, neo model.NEO, attrs attributes.Attributes) (string, error) {
	body, err := json.Marshal(Build(neo, attrs, p.imageBaseURL))
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	key := Key(neo.ID)
	uri, err := p.store.Put(ctx, key, body, ContentType)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	p.log.Debug(ctx, "metadata published", logger.String("neo_id", neo.ID), logger.String("uri", uri))
	return uri, nil
}
