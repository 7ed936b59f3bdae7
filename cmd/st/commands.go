package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"smartrust/internal/app"
	"smartrust/internal/board"
	"smartrust/internal/domain"
	"smartrust/internal/engine"
	"smartrust/internal/generation"
	"smartrust/internal/repo"
)

func catalogCmd() *cobra.Command {
	c := &cobra.Command{Use: "catalog", Short: "Reference-task catalog"}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List reference tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.RefTasks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Order", "Name", "Owner", "Buyer todo", "Seller todo"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.DisplayOrder, t.Name, t.TaskOwner, t.BuyerTodoLabel, t.SellerTodoLabel})
				}
				tw.Render()
				return nil
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Add missing default reference tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := app.SeedCatalog(ctx, e.Repo)
				if err != nil {
					return err
				}
				fmt.Printf("catalog has %d reference tasks\n", n)
				return nil
			})
		},
	})
	return c
}

func contractCmd() *cobra.Command {
	c := &cobra.Command{Use: "contract", Short: "Saved contracts"}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List contracts visible to --as",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.ListContracts(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "State", "Value", "Created"})
				for _, ct := range items {
					tw.AppendRow(table.Row{ct.ID, ct.DisplayName, ct.DashboardState, formatMoney(ct.NominalValue, ct.Currency), ct.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Render a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				view, err := e.GetContract(ctx, p, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Printf("#%d %s  %s  %s\n", view.ID, view.DisplayName, view.DashboardState, formatMoney(view.NominalValue, view.Currency))
				return renderMarkdown(view.Description)
			})
		},
	})
	return c
}

func boardCmd() *cobra.Command {
	c := &cobra.Command{Use: "board", Short: "Contract task boards"}
	c.AddCommand(&cobra.Command{
		Use:   "show <contract-id>",
		Short: "Show the board of a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				lanes, err := e.Board(ctx, p, id)
				if err != nil {
					return err
				}
				return printLanes(lanes)
			})
		},
	})

	var m board.Move
	var from, to string
	move := &cobra.Command{
		Use:   "move <contract-id>",
		Short: "Move a task between or within lanes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			m.SourceLane = domain.TaskStatus(from)
			m.DestinationLane = domain.TaskStatus(to)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				lanes, err := e.MoveTask(ctx, p, id, m)
				if err != nil {
					return err
				}
				return printLanes(lanes)
			})
		},
	}
	move.Flags().Int64Var(&m.TaskID, "task", 0, "expected task id at the source position")
	move.Flags().StringVar(&from, "from", string(domain.StatusTodo), "source lane")
	move.Flags().IntVar(&m.SourceIndex, "from-index", 0, "source position")
	move.Flags().StringVar(&to, "to", string(domain.StatusInProgress), "destination lane")
	move.Flags().IntVar(&m.DestinationIndex, "to-index", 0, "destination position")
	c.AddCommand(move)

	var lane string
	add := &cobra.Command{
		Use:   "add <contract-id> <label>",
		Short: "Add a task to a lane",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				_, lanes, err := e.CreateTask(ctx, p, id, domain.TaskStatus(lane), args[1])
				if err != nil {
					return err
				}
				return printLanes(lanes)
			})
		},
	}
	add.Flags().StringVar(&lane, "lane", string(domain.StatusTodo), "lane to add the task to")
	c.AddCommand(add)
	return c
}

func generateCmd() *cobra.Command {
	c := &cobra.Command{Use: "generate", Short: "Talk to the contract generator directly"}

	var input, file string
	questions := &cobra.Command{
		Use:   "questions",
		Short: "Ask for clarifying questions about a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readOptional(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				qs, err := e.ClarifyingQuestions(ctx, generation.QuestionsRequest{Input: input, FileContent: content})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(qs)
				}
				for i, q := range qs {
					fmt.Printf("%d. %s\n", i+1, q)
				}
				return nil
			})
		},
	}
	questions.Flags().StringVar(&input, "input", "", "project description")
	questions.Flags().StringVar(&file, "file", "", "text file with more project detail")
	c.AddCommand(questions)

	var draftInput, draftFile, template string
	var asked, answers []string
	contract := &cobra.Command{
		Use:   "contract",
		Short: "Generate a contract draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(asked) != len(answers) {
				return fmt.Errorf("--question and --answer must be given in pairs")
			}
			content, err := readOptional(draftFile)
			if err != nil {
				return err
			}
			req := generation.DraftRequest{Input: draftInput, FileContent: content, Answers: answers, SelectedTemplate: template}
			for _, q := range asked {
				req.Questions = append(req.Questions, generation.Question{Text: q})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				md, err := e.GenerateContract(ctx, p, "cli", req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"contract": md})
				}
				return renderMarkdown(md)
			})
		},
	}
	contract.Flags().StringVar(&draftInput, "input", "", "project description")
	contract.Flags().StringVar(&draftFile, "file", "", "text file with more project detail")
	contract.Flags().StringVar(&template, "template", "", "template name")
	contract.Flags().StringArrayVar(&asked, "question", nil, "clarifying question (repeatable)")
	contract.Flags().StringArrayVar(&answers, "answer", nil, "answer to the matching --question (repeatable)")
	c.AddCommand(contract)
	return c
}

func apiKeyCmd() *cobra.Command {
	c := &cobra.Command{Use: "apikey", Short: "API keys for the X-Api-Key header"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --as",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				k, secret, err := e.Repo.CreateAPIKey(ctx, p.UserID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": k, "secret": secret})
				}
				fmt.Printf("api key %s created; store this secret now, it is not shown again:\n%s\n", k.ID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	c.AddCommand(create)

	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys of --as",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				keys, err := e.Repo.ListAPIKeys(ctx, p.UserID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return c
}

func eventsCmd() *cobra.Command {
	c := &cobra.Command{Use: "events", Short: "Audit log"}
	var n int
	var f repo.EventFilter
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Latest events of a contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.ListEvents(ctx, p, n, 0, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	tail.Flags().Int64Var(&f.ContractID, "contract", 0, "contract id")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	c.AddCommand(tail)
	return c
}

func printLanes(lanes []board.Lane) error {
	if viper.GetBool("json") {
		return printJSON(lanes)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Lane", "#", "ID", "Task"})
	for _, l := range lanes {
		for i, t := range l.Tasks {
			tw.AppendRow(table.Row{l.Title, i, t.ID, t.Label})
		}
		if len(l.Tasks) == 0 {
			tw.AppendRow(table.Row{l.Title, "", "", "(empty)"})
		}
		tw.AppendSeparator()
	}
	tw.Render()
	return nil
}

func renderMarkdown(md string) error {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return err
	}
	out, err := r.Render(md)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func formatMoney(v float64, currency string) string {
	if v == 0 && currency == "" {
		return "-"
	}
	return strings.TrimSpace(fmt.Sprintf("%s %.2f", currency, v))
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
