// Package enrich derives structured metadata from extracted article text:
// language, an English title, named entities, country mentions, and lead
// images. Enrichment is best-effort by design. A failing provider degrades
// the record (with a warning) instead of failing the article.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/AteetVatan/masx-geosignal/internal/config"
)

type (
	// Options configures an Enricher. Nil providers disable the
	// corresponding enrichment step.
	Options struct {
		Recognizer   Recognizer
		Translator   Translator
		GeoOverrides map[string]string
	}

	// Input is one article to enrich.
	Input struct {
		Title         string
		Content       string
		URL           string
		HTML          string
		Language      string
		SourceCountry string
	}

	// Output holds the derived metadata for one article.
	Output struct {
		Language    string
		TitleEN     string
		Hostname    string
		Entities    Entities
		EntityMeta  *NERMeta
		GeoEntities []GeoEntity
		Images      []string
		Warnings    []string
	}

	// Enricher runs the per-article enrichment steps in order.
	Enricher struct {
		recognizer Recognizer
		translator Translator
		overrides  map[string]string
		logger     *slog.Logger
	}
)

// NewEnricher creates an Enricher with the given providers.
func NewEnricher(opts Options) *Enricher {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	return &Enricher{
		recognizer: opts.Recognizer,
		translator: opts.Translator,
		overrides:  opts.GeoOverrides,
		logger:     logger,
	}
}

// Enrich derives metadata for one article.
//
// Steps run in a fixed order: language detection, title translation,
// hostname, entity recognition, country resolution, image extraction.
// Provider failures are recorded in Warnings and the remaining steps
// still run.
func (e *Enricher) Enrich(ctx context.Context, in Input) *Output {
	out := &Output{}

	out.Language = DetectLanguage(in.Content, in.Language)
	out.TitleEN = TranslateTitle(ctx, e.translator, in.Title, out.Language)
	out.Hostname = Hostname(in.URL)

	if e.recognizer != nil {
		result, err := e.recognizer.Recognize(ctx, in.Content)
		if err != nil {
			e.logger.Warn("entity recognition failed",
				"url", in.URL,
				"error", err)
			out.Warnings = append(out.Warnings, fmt.Sprintf("ner: %v", err))
		} else {
			out.Entities = result.Entities
			out.EntityMeta = &result.Meta
		}
	}

	if len(out.Entities) > 0 || in.SourceCountry != "" {
		out.GeoEntities = ResolveGeoEntities(out.Entities, in.SourceCountry, e.overrides)
	}

	if in.HTML != "" {
		out.Images = ExtractImages(in.HTML, in.URL)
	}

	return out
}

// Hostname returns the lowercased host of rawURL without the port, or ""
// when the URL does not parse.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return strings.ToLower(u.Hostname())
}
