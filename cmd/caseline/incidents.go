package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"caseline/internal/caseview"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/lifecycle"
)

func incidentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "incident", Short: "Report and decide incidents"}
	cmd.AddCommand(incidentSubmitCmd())
	cmd.AddCommand(incidentPendingCmd())
	cmd.AddCommand(incidentShowCmd())
	cmd.AddCommand(incidentApproveCmd())
	cmd.AddCommand(incidentRejectCmd())
	return cmd
}

func incidentSubmitCmd() *cobra.Command {
	var in engine.SubmitIncidentInput
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Report an incident",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				u, err := rt.Engine.Authorize(ctx, actor, auth.PermIncidentSubmit)
				if err != nil {
					return err
				}
				if err := rt.Engine.ReportFor(ctx, u, &in); err != nil {
					return err
				}
				inc, err := rt.Engine.SubmitIncident(ctx, in)
				if err != nil {
					return err
				}
				printWarnings(rt.Notifier.ApprovalNeeded(ctx, inc))
				return printJSONOrTable(inc)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.WorkerID, "worker-id", "", "worker the incident happened to (defaults to the actor)")
	f.StringVar(&in.TeamID, "team-id", "", "team (defaults to the worker's team)")
	f.StringVar(&in.Type, "type", "", "injury|incident|near_miss|illness|property_damage")
	f.StringVar(&in.Date, "date", "", "incident date (YYYY-MM-DD)")
	f.StringVar(&in.Description, "description", "", "what happened")
	f.StringVar(&in.Severity, "severity", "", "low|medium|high|critical")
	f.StringVar(&in.Location, "location", "", "where it happened")
	f.StringVar(&in.PhotoRef, "photo-ref", "", "photo reference")
	f.StringVar(&in.AIAnalysis, "ai-analysis", "", "analysis JSON document")
	return cmd
}

func incidentPendingCmd() *cobra.Command {
	var teamID string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List incidents awaiting a decision, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := views(e).PendingIncidents(ctx, teamID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, inc := range items {
					rows = append(rows, table.Row{inc.ID, inc.WorkerID, inc.Type, inc.Severity, inc.IncidentDate, inc.CreatedAt})
				}
				return printTable(items, table.Row{"ID", "Worker", "Type", "Severity", "Date", "Reported"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team-id", "", "team id")
	_ = cmd.MarkFlagRequired("team-id")
	return cmd
}

func incidentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <incident-id>",
		Short: "Show an incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inc, err := e.GetIncident(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(inc)
			})
		},
	}
}

// decide checks the actor may decide the incident before fn runs.
func decide(ctx context.Context, rt runtime, incidentID string, fn func(domain.User) error) error {
	actor, err := actorID()
	if err != nil {
		return err
	}
	u, err := rt.Engine.Authorize(ctx, actor, auth.PermIncidentDecide)
	if err != nil {
		return err
	}
	inc, err := rt.Engine.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if err := rt.Engine.CanDecide(ctx, u, inc); err != nil {
		return err
	}
	return fn(u)
}

func incidentApproveCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "approve <incident-id>",
		Short: "Approve an incident and open its case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				return decide(ctx, rt, args[0], func(u domain.User) error {
					res, err := rt.Engine.Approve(ctx, args[0], u.ID, notes)
					if err != nil {
						return err
					}
					printWarnings(res.Warnings)
					printWarnings(rt.Notifier.IncidentApproved(ctx, res.Incident, res.Case, u.ID))
					return printJSONOrTable(views(rt.Engine).Project(res.Case))
				})
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "initial clinical notes")
	return cmd
}

func incidentRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <incident-id>",
		Short: "Reject an incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				return decide(ctx, rt, args[0], func(u domain.User) error {
					inc, err := rt.Engine.Reject(ctx, args[0], u.ID, reason)
					if err != nil {
						return err
					}
					printWarnings(rt.Notifier.IncidentRejected(ctx, inc, u.ID))
					return printJSONOrTable(inc)
				})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the incident is rejected")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func caseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "case", Short: "Follow and advance cases"}
	cmd.AddCommand(caseShowCmd())
	cmd.AddCommand(caseListCmd())
	cmd.AddCommand(caseSummaryCmd())
	cmd.AddCommand(caseStatusCmd())
	cmd.AddCommand(caseNotesCmd())
	cmd.AddCommand(caseCloseCmd())
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case with its derived status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := views(e).GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func caseListCmd() *cobra.Command {
	var view, workerID, teamID, statuses string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases for a view (whs, clinician, worker, team)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				svc := views(e)
				var (
					items []caseview.CaseView
					err   error
				)
				switch view {
				case "whs":
					items, err = svc.WHSQueue(ctx)
				case "clinician":
					var want []lifecycle.Status
					for _, raw := range strings.Split(statuses, ",") {
						if raw = strings.TrimSpace(raw); raw == "" {
							continue
						}
						s, perr := lifecycle.ParseStatus(raw)
						if perr != nil {
							return perr
						}
						want = append(want, s)
					}
					items, err = svc.ClinicianCases(ctx, want...)
				case "worker":
					if workerID == "" {
						return fmt.Errorf("--worker-id required for the worker view")
					}
					items, err = svc.WorkerCases(ctx, workerID)
				case "team":
					if teamID == "" {
						return fmt.Errorf("--team-id required for the team view")
					}
					items, err = svc.TeamCases(ctx, teamID)
				default:
					return fmt.Errorf("unknown view %q", view)
				}
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, v := range items {
					rows = append(rows, table.Row{v.ID, v.WorkerID, v.TeamID, v.DisplayStatus, v.StartDate, deref(v.EndDate), v.Active})
				}
				return printTable(items, table.Row{"ID", "Worker", "Team", "Status", "Start", "End", "Active"}, rows)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&view, "view", "whs", "whs|clinician|worker|team")
	f.StringVar(&workerID, "worker-id", "", "worker for the worker view")
	f.StringVar(&teamID, "team-id", "", "team for the team view")
	f.StringVar(&statuses, "status", "", "comma separated statuses for the clinician view")
	return cmd
}

func caseSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Organisation-wide case counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := views(e).ExecutiveSummary(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(sum.Teams))
				for _, ts := range sum.Teams {
					rows = append(rows, table.Row{ts.TeamID, ts.Total, ts.Active, ts.Completed})
				}
				rows = append(rows, table.Row{"(all)", sum.Total, sum.Active, sum.Completed})
				return printTable(sum, table.Row{"Team", "Total", "Active", "Completed"}, rows)
			})
		},
	}
}

func caseStatusCmd() *cobra.Command {
	var duty string
	cmd := &cobra.Command{
		Use:   "status <case-id> <status>",
		Short: "Move a case to its next lifecycle status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			to, err := lifecycle.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Authorize(ctx, actor, auth.PermCaseAdvance); err != nil {
					return err
				}
				c, err := e.AdvanceCaseStatus(ctx, engine.AdvanceInput{CaseID: args[0], ActorID: actor, To: to, DutyType: duty})
				if err != nil {
					return err
				}
				return printJSONOrTable(views(e).Project(c))
			})
		},
	}
	cmd.Flags().StringVar(&duty, "duty-type", "", "duty type for return_to_work or closed")
	return cmd
}

func caseNotesCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "notes <case-id>",
		Short: "Replace the clinical notes of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Authorize(ctx, actor, auth.PermCaseNotes); err != nil {
					return err
				}
				c, err := e.UpdateClinicalNotes(ctx, args[0], actor, text)
				if err != nil {
					return err
				}
				return printJSONOrTable(views(e).Project(c))
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "clinical notes")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func caseCloseCmd() *cobra.Command {
	var in engine.CloseCaseInput
	cmd := &cobra.Command{
		Use:   "close <case-id>",
		Short: "Close a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			in.CaseID, in.ActorID = args[0], actor
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Authorize(ctx, actor, auth.PermCaseClose); err != nil {
					return err
				}
				c, err := e.CloseCase(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(views(e).Project(c))
			})
		},
	}
	cmd.Flags().StringVar(&in.EndDate, "end-date", "", "end date (defaults to today)")
	cmd.Flags().StringVar(&in.DutyType, "duty-type", "", "duty type on closure")
	return cmd
}
