package dispatch

import (
	"fmt"

	"github.com/ashureev/coordsim/internal/domain"
)

type entry struct {
	role    domain.Role
	action  string
	handler Handler
}

func message(from, to domain.Role, typ, body string) Handler {
	return func(s *domain.Session, _ domain.Step) (Effect, error) {
		return SendMessage{From: from, To: to, Type: typ, Body: fmt.Sprintf(body, s.Scenario.Name)}, nil
	}
}

func task(by, to domain.Role, priority int, title, description string) Handler {
	return func(*domain.Session, domain.Step) (Effect, error) {
		return AssignTask{
			By:          by,
			To:          to,
			Title:       title,
			Description: description,
			Priority:    domain.ClampPriority(priority),
		}, nil
	}
}

func decision(role domain.Role, typ string, confidence int, description, reasoning string) Handler {
	return func(*domain.Session, domain.Step) (Effect, error) {
		return RecordDecision{
			Role:        role,
			Type:        typ,
			Description: description,
			Reasoning:   reasoning,
			Confidence:  domain.ClampConfidence(confidence),
		}, nil
	}
}

func metric(role domain.Role, metricType string, value float64, unit string) Handler {
	return func(s *domain.Session, step domain.Step) (Effect, error) {
		return RecordMetric{
			Role:       role,
			MetricType: metricType,
			Value:      value,
			Unit:       unit,
			Metadata: map[string]any{
				"scenario": s.Scenario.ID,
				"step":     s.Cursor,
				"action":   step.Action,
			},
		}, nil
	}
}

// builtinHandlers covers every action used by the built-in scenarios.
func builtinHandlers() []entry {
	const (
		co = domain.RoleCoordinator
		fe = domain.RoleFrontend
		be = domain.RoleBackend
		sy = domain.RoleSystem
	)
	return []entry{
		// Customer service.
		{fe, domain.ActionReceiveInquiry, message(fe, co, "escalation",
			"%s: customer reports a billing discrepancy on their latest invoice and asks for a correction.")},
		{co, domain.ActionAnalyzeInquiry, decision(co, "strategic", 87,
			"Treat inquiry as account-level issue requiring record review",
			"Billing discrepancies usually trace back to account history; frontend alone cannot verify.")},
		{co, domain.ActionDelegateLookup, task(co, be, 4,
			"Account lookup",
			"Retrieve invoice history and payment records for the reporting customer.")},
		{be, domain.ActionRetrieveRecords, metric(be, "records_processed", 1284, "records")},
		{be, domain.ActionReportFindings, message(be, co, "report",
			"%s: duplicate charge found on the last invoice; refund amount confirmed.")},
		{co, domain.ActionApproveResolution, decision(co, "tactical", 93,
			"Approve refund of the duplicate charge",
			"Backend findings confirm the duplicate; refund resolves the inquiry fully.")},
		{fe, domain.ActionDeliverResolution, message(fe, co, "confirmation",
			"%s: resolution delivered to customer, refund scheduled.")},

		// Business intelligence.
		{co, domain.ActionFormulateStrategy, decision(co, "strategic", 82,
			"Run quarterly analysis across sales, marketing and operations",
			"Quarter close requires a consolidated view before planning.")},
		{co, domain.ActionDelegateCollection, task(co, be, 3,
			"Collect quarterly data",
			"Aggregate sales, marketing and operations datasets for the quarter.")},
		{be, domain.ActionCollectData, metric(be, "data_points", 48210, "rows")},
		{sy, domain.ActionRecordThroughput, metric(sy, "throughput", 312.5, "rows/s")},
		{be, domain.ActionShareAnalysis, message(be, co, "report",
			"%s: revenue up 8%% quarter over quarter, marketing spend efficiency down 3%%.")},
		{co, domain.ActionSynthesizeInsights, decision(co, "resource_allocation", 78,
			"Shift part of marketing budget to retention programs",
			"Revenue growth is retention-led while acquisition efficiency declines.")},

		// Data pipeline.
		{co, domain.ActionSchedulePipeline, task(co, be, 2,
			"Nightly batch",
			"Validate, transform and persist the nightly ingestion batch.")},
		{be, domain.ActionValidateInput, metric(be, "validation_pass_rate", 99.2, "percent")},
		{be, domain.ActionTransformDataset, metric(be, "records_transformed", 20500, "records")},
		{sy, domain.ActionPersistResults, metric(sy, "storage_write", 64, "MB")},
		{sy, domain.ActionNotifyPipelineDone, message(sy, co, "status_update",
			"%s: nightly batch persisted without rejected records.")},
		{co, domain.ActionReviewPipeline, decision(co, "policy_mandate", 90,
			"Keep nightly schedule unchanged",
			"Pass rate is above threshold and storage growth is within budget.")},

		// Incident response.
		{sy, domain.ActionRaiseAlert, message(sy, co, "alert",
			"%s: error rate on checkout service exceeded 5%% for 3 minutes.")},
		{co, domain.ActionAssessSeverity, decision(co, "emergency_response", 88,
			"Classify as severity 2 incident",
			"Checkout is degraded but not down; customer impact is partial.")},
		{co, domain.ActionAssignMitigation, task(co, be, 5,
			"Mitigate checkout errors",
			"Roll back the latest checkout deployment and watch error rates.")},
		{co, domain.ActionAssignCommunication, task(co, fe, 4,
			"Customer communication",
			"Post a status notice and inform affected customers.")},
		{be, domain.ActionApplyMitigation, metric(be, "recovery_time", 94, "seconds")},
		{fe, domain.ActionNotifyAffectedUsers, message(fe, co, "status_update",
			"%s: status page updated and affected customers notified.")},
		{be, domain.ActionConfirmRecovery, message(be, co, "report",
			"%s: rollback complete, error rate back under 0.5%%.")},
		{co, domain.ActionCloseIncident, decision(co, "tactical", 95,
			"Close incident and schedule postmortem",
			"Service recovered and customers informed.")},
	}
}
