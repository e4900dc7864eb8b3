package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/trialware/diarysync/internal/client/services"
	"github.com/trialware/diarysync/internal/event"
)

func (a *App) Main(ctx context.Context) {

	fmt.Println("Diary sync CLI (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("diary [%s] > ", a.Mode)
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			fmt.Println("Available commands: create, amend, annotate, ack, lock, unlock, show, pending, conflicts, verify, sync, exit")

		case "create":
			a.create(ctx, args)
		case "amend":
			a.amend(ctx, args)
		case "annotate":
			a.annotate(ctx, args)
		case "ack":
			a.ack(ctx, args)
		case "lock":
			a.lock(ctx, args, true)
		case "unlock":
			a.lock(ctx, args, false)
		case "show":
			a.show(ctx, args)
		case "pending":
			a.pending(ctx)
		case "conflicts":
			a.conflicts(ctx, args)
		case "verify":
			a.verify(ctx)
		case "sync":
			a.syncer.Trigger(services.TriggerManual)
			fmt.Println("sync requested")
		case "exit", "quit":
			fmt.Println("Bye!")
			return

		default:
			fmt.Println("Unknown command:", cmd)
		}
	}
}

func (a *App) create(ctx context.Context, args []string) {
	if len(args) < 3 {
		fmt.Println("Usage: create <date> <symptom> <severity 0-10> [notes...]")
		return
	}
	severity, err := strconv.Atoi(args[2])
	if err != nil {
		fmt.Println("severity must be a number")
		return
	}
	aggregateID, err := a.records.CreateEntry(ctx, &event.EntryCreatedV2{
		EntryDate: args[0],
		Symptom:   args[1],
		Severity:  severity,
		Notes:     strings.Join(args[3:], " "),
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("created record", aggregateID)
	a.syncer.Trigger(services.TriggerManual)
}

func (a *App) amend(ctx context.Context, args []string) {
	if len(args) < 3 {
		fmt.Println("Usage: amend <record> <severity 0-10> <reason...>")
		return
	}
	severity, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Println("severity must be a number")
		return
	}
	_, err = a.records.AmendEntry(ctx, args[0], &event.EntryAmendedV1{
		Severity: &severity,
		Reason:   strings.Join(args[2:], " "),
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("amended")
	a.syncer.Trigger(services.TriggerManual)
}

func (a *App) annotate(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: annotate <record> <text...>")
		return
	}
	if _, err := a.records.AddAnnotation(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("annotated")
	a.syncer.Trigger(services.TriggerManual)
}

func (a *App) ack(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Println("Usage: ack <record> <annotation-event-id>")
		return
	}
	if _, err := a.records.AcknowledgeAnnotation(ctx, args[0], args[1]); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("acknowledged")
	a.syncer.Trigger(services.TriggerManual)
}

func (a *App) lock(ctx context.Context, args []string, lock bool) {
	if len(args) < 2 {
		fmt.Println("Usage: lock|unlock <record> <reason...>")
		return
	}
	reason := strings.Join(args[1:], " ")
	var err error
	if lock {
		_, err = a.records.LockRecord(ctx, args[0], reason)
	} else {
		_, err = a.records.UnlockRecord(ctx, args[0], reason)
	}
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("done")
	a.syncer.Trigger(services.TriggerManual)
}

func (a *App) show(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: show <record>")
		return
	}
	state, err := a.records.WorkingState(ctx, args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("record %s  v%d  %s\n", state.AggregateID, state.Version, state.Status)
	fmt.Printf("  %s  %s  severity %d\n", state.Data.EntryDate, state.Data.Symptom, state.Data.Severity)
	if state.Data.Notes != "" {
		fmt.Printf("  notes: %s\n", state.Data.Notes)
	}
	for _, ann := range state.Data.Annotations {
		mark := " "
		if ann.Acknowledged {
			mark = "✓"
		}
		fmt.Printf("  [%s] %s: %s (%s)\n", mark, ann.ActorID, ann.Text, ann.EventID)
	}
	if state.PendingAck {
		fmt.Println("  has unacknowledged study-team changes")
	}
}

func (a *App) pending(ctx context.Context) {
	depth, err := a.syncer.QueueDepth(ctx)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("%d event(s) awaiting sync\n", depth)
}

func (a *App) conflicts(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: conflicts <record>")
		return
	}
	records, err := a.repos.Conflicts.ForAggregate(ctx, args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if len(records) == 0 {
		fmt.Println("no conflicts recorded")
		return
	}
	for _, rec := range records {
		fmt.Printf("%s  %s -> %s  (local v%d, remote v%d)  %s\n",
			rec.CreatedAt.Format("2006-01-02 15:04"), rec.Classification, rec.Action,
			rec.LocalVersion, rec.RemoteVersion, rec.Detail)
	}
}

func (a *App) verify(ctx context.Context) {
	failed, err := a.sweeper.SweepAll(ctx)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if len(failed) == 0 {
		fmt.Println("all chains verified")
		return
	}
	for _, report := range failed {
		fmt.Printf("record %s: chain broken at sequence %d (%s)\n",
			report.AggregateID, report.Mismatch.Sequence, report.Mismatch.Reason)
	}
}
