package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"support-orchestrator/internal/domain"
	"support-orchestrator/internal/integrations/openai"
)

// metadataReader is the session surface variants use to enrich their
// persona with conversation context.
type metadataReader interface {
	Metadata(ctx context.Context, conversationID string) (domain.Metadata, bool)
}

const domainSystemDescription = `You are a helpful and empathetic Hostinger AI assistant
named Kodee specialized in Domains issues.
Additional guidelines:
Keep your responses short and simple, up to 3 sentences.
Your answers must be in markdown format.`

const outOfScopeSystemDescription = `You are a helpful and empathetic Hostinger AI assistant named Kodee.
The user's question is outside the topics you are specialized in.
Additional guidelines:
Use the knowledge lookup tool when extra context could help answer the question.
Keep your responses short and simple, up to 3 sentences.
Your answers must be in markdown format.`

// domainVariant answers domain registration, transfer and DNS questions.
type domainVariant struct {
	sessions metadataReader
}

func (v *domainVariant) Name() string                    { return "domain" }
func (v *domainVariant) Model() string                   { return openai.ModelGPT4o20240806 }
func (v *domainVariant) Temperature() openai.Temperature { return openai.TemperaturePointFive }

func (v *domainVariant) SystemDescription(ctx context.Context, conversationID string) string {
	description := domainSystemDescription
	if meta, ok := v.sessions.Metadata(ctx, conversationID); ok && meta.DomainName != "" {
		description += fmt.Sprintf("\nThe user has provided a domain name: %s. "+
			"Please verify if the user would like to discuss this domain.", meta.DomainName)
	}
	return description
}

func (v *domainVariant) Tools() Registry { return domainTools }

// NewDomainHandler builds the runner for the domain category.
func NewDomainHandler(gateway toolCompleter, sessions sessionAPI, meta metadataReader, events eventAppender, logger *slog.Logger) (*Runner, error) {
	return NewRunner(&domainVariant{sessions: meta}, gateway, sessions, events, logger)
}

// outOfScopeVariant handles chit chat and anything no specialist covers.
type outOfScopeVariant struct{}

func (v *outOfScopeVariant) Name() string                    { return "out_of_scope" }
func (v *outOfScopeVariant) Model() string                   { return openai.ModelGPT4o20240806 }
func (v *outOfScopeVariant) Temperature() openai.Temperature { return openai.TemperaturePointFive }

func (v *outOfScopeVariant) SystemDescription(context.Context, string) string {
	return outOfScopeSystemDescription
}

func (v *outOfScopeVariant) Tools() Registry { return outOfScopeTools }

// NewOutOfScopeHandler builds the runner for the out-of-scope category.
func NewOutOfScopeHandler(gateway toolCompleter, sessions sessionAPI, events eventAppender, logger *slog.Logger) (*Runner, error) {
	return NewRunner(&outOfScopeVariant{}, gateway, sessions, events, logger)
}
