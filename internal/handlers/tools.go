package handlers

import (
	"context"
	"fmt"

	"support-orchestrator/internal/domain"
)

// domainTools is the static tool table of the domain handler.
var domainTools = Registry{
	"domain_transfer_in": {
		Name:        "domain_transfer_in",
		Description: "This function is used to transfer a domain to Hostinger.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"domain_name": map[string]any{
					"type": "string",
					"description": "The valid domain name without subdomain, e.g. hostinger.com. " +
						"Always ask the user to input domain name. If domain TLD not provided, ask the user to provide it.",
				},
			},
		},
		Run: transferIn,
	},
	"domain_change_dns_records": {
		Name: "domain_change_dns_records",
		Description: "This function is used to change the DNS records of a domain. " +
			"The user can change the DNS records of their domain.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"domain_name": map[string]any{
					"type": "string",
					"description": "The domain name with subdomain if there is, e.g. hostinger.com or www.hostinger.com. " +
						"Always ask the user to input it. If TLD not provided, ask the user to provide it.",
				},
			},
		},
		Run: changeDNSRecords,
	},
	"domain_sell_domain": {
		Name:        "domain_sell_domain",
		Description: "This function is used to sell a domain. The user should provide their domain name.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"domain_name": map[string]any{
					"type": "string",
					"description": "The domain name without subdomain if there is, e.g. hostinger.com. " +
						"Always ask the user to input it. If TLD not provided, ask the user to provide it.",
				},
			},
			"required": []string{"domain_name"},
		},
		Run: sellDomain,
	},
}

// outOfScopeTools is the static tool table of the out-of-scope handler.
var outOfScopeTools = Registry{
	"oos_get_knowledge": {
		Name:        "oos_get_knowledge",
		Description: "This function is used to get knowledge from the vector database.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{
					"type": "string",
					"description": "User standalone question suitable for the vector database search. " +
						"This question must be in English.",
				},
			},
			"required": []string{"question"},
		},
		Run: getKnowledge,
	},
}

func stringArg(args map[string]any, key string) string {
	value, _ := args[key].(string)
	return value
}

func transferIn(_ context.Context, _ ToolContext, args map[string]any) (domain.ToolOutput, error) {
	domainName := stringArg(args, "domain_name")
	return domain.ToolOutput{
		Status: domain.ToolStatusSuccess,
		Message: fmt.Sprintf("To transfer a domain %s to Hostinger, you need to follow these steps:\n"+
			"1. Unlock the domain at your current registrar.\n"+
			"2. Get the EPP code from your current registrar.\n"+
			"3. Initiate the domain transfer at Hostinger.\n"+
			"4. Confirm the domain transfer.\n"+
			"5. Wait for the domain transfer to complete.\n"+
			"The process may take up to 7 business days. You may track the domain transfer progress in your Hostinger panel.\n",
			domainName),
	}, nil
}

// changeDNSRecords additionally leaves a function_log record so support can
// audit which domains customers asked to change.
func changeDNSRecords(ctx context.Context, tc ToolContext, args map[string]any) (domain.ToolOutput, error) {
	domainName := stringArg(args, "domain_name")

	if err := tc.Events.AppendEvent(ctx, domain.EventRecord{
		ConversationID: tc.ConversationID,
		Type:           domain.EventFunctionLog,
		Payload: map[string]any{"content": map[string]any{
			"message": "domain_change_dns_records requested",
			"domain":  domainName,
		}},
		PartID: tc.PartID,
	}); err != nil {
		tc.Logger.Warn("handlers: error recording function_log event",
			"conversation_id", tc.ConversationID, "err", err)
	}

	return domain.ToolOutput{
		Status: domain.ToolStatusSuccess,
		Message: fmt.Sprintf("Thank you for providing your domain name: %s. To edit its DNS records, "+
			"go to Domains → Domain portfolio, then click on ‘Manage’ and head to the DNS/Nameservers "+
			"section to make any preferred changes.", domainName),
	}, nil
}

// sellDomain always exits to a human: selling is not self-service.
func sellDomain(_ context.Context, _ ToolContext, args map[string]any) (domain.ToolOutput, error) {
	domainName := stringArg(args, "domain_name")
	return domain.ToolOutput{
		Status: domain.ToolStatusExit,
		Message: fmt.Sprintf("To proceed with selling %s, a dedicated Customer Success Specialist is required "+
			"to assist further. The user is being redirected to the dedicated team right now.", domainName),
	}, nil
}

func getKnowledge(_ context.Context, _ ToolContext, args map[string]any) (domain.ToolOutput, error) {
	question := stringArg(args, "question")
	if question == "" {
		return domain.ToolOutput{
			Status:  domain.ToolStatusSuccess,
			Message: "No question provided. Clarify with the user question to get the context.",
		}, nil
	}

	// TODO: back this with the knowledge base search once its API is exposed
	// to the orchestrator.
	return domain.ToolOutput{
		Status:  domain.ToolStatusSuccess,
		Message: "This is the extra information that I found for you.",
	}, nil
}
