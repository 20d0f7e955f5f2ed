package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/app"
	"taskline/internal/attach"
	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/form"
	"taskline/internal/migrate"
	"taskline/internal/repo"
	"taskline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline tracks scraping engagements as tasks split into delivery domains.
Core concepts:
- Workspace: your .taskline directory with the database; taskline.yml holds catalogs and defaults.
- Task: one client engagement with a sequential RD-NNN code, dates, and attachments (SOW, input, client schema, output).
- Domains: the delivery platforms inside a task (web, app, ...). Each has its own status, developers, output, and submission.
- Statuses: pending -> in-progress -> submitted; delayed is stamped automatically past the target date, in-R&D is a manual hold.
- Submissions: developers report deliverables per domain; the task completes once every domain is submitted.
- Event log: diary of changes, view with 'tl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace with a default taskline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks carry the engagement metadata and attachments; their domains carry the per-platform work. Assign developers with 'task update --assign', record work with 'task submit'.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskSubmitCmd())
	task.AddCommand(taskOverrideCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var domains []string
	var sowFiles, sowURLs, inputFiles, inputURLs, schemaFiles, schemaURLs []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.AssignedBy = opts.ActorID
			opts.Domains = domains
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var err error
				if opts.SOW, err = storeAttachments(e.Store, sowFiles, sowURLs); err != nil {
					return err
				}
				if opts.Input, err = storeAttachments(e.Store, inputFiles, inputURLs); err != nil {
					return err
				}
				if opts.ClientSchema, err = storeAttachments(e.Store, schemaFiles, schemaURLs); err != nil {
					return err
				}
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.AssignedTo, "assigned-to", "", "responsible lead")
	cmd.Flags().StringVar(&opts.DeliveryType, "delivery-type", "", "delivery type (see taskline.yml catalogs)")
	cmd.Flags().StringVar(&opts.PlatformType, "platform-type", "", "platform type")
	cmd.Flags().BoolVar(&opts.SampleRequired, "sample-required", false, "client wants a sample first")
	cmd.Flags().StringVar(&opts.SampleVolume, "sample-volume", "", "sample volume")
	cmd.Flags().StringVar(&opts.TargetDate, "target-date", "", "target date (RFC3339, defaults per config offset)")
	cmd.Flags().StringArrayVar(&domains, "domain", []string{}, "delivery domain (repeatable)")
	cmd.Flags().StringArrayVar(&sowFiles, "sow-file", []string{}, "SOW file to store (repeatable)")
	cmd.Flags().StringArrayVar(&sowURLs, "sow-url", []string{}, "SOW URL (repeatable)")
	cmd.Flags().StringArrayVar(&inputFiles, "input-file", []string{}, "input file to store (repeatable)")
	cmd.Flags().StringArrayVar(&inputURLs, "input-url", []string{}, "input URL (repeatable)")
	cmd.Flags().StringArrayVar(&schemaFiles, "schema-file", []string{}, "client schema file to store (repeatable)")
	cmd.Flags().StringArrayVar(&schemaURLs, "schema-url", []string{}, "client schema URL (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if mine {
					f.Developer = viper.GetString("actor-id")
				}
				if _, err := e.Sweep(ctx, viper.GetString("actor-id")); err != nil {
					return err
				}
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Title", "Status", "Domains", "Target", "Assigned To"})
				for _, t := range tasks {
					var names []string
					for _, d := range t.Domains {
						names = append(names, fmt.Sprintf("%s[%s]", d.Name, d.Status))
					}
					tw.AppendRow(table.Row{t.Code, t.Title, t.OverallStatus(), strings.Join(names, " "), t.TargetDate, t.AssignedTo})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Developer, "developer", "", "developer filter")
	cmd.Flags().BoolVar(&mine, "mine", false, "only tasks with my domains")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <code>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Sweep(ctx, viper.GetString("actor-id")); err != nil {
					return err
				}
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, assignedTo, deliveryType, platformType, sampleVolume, targetDate, status string
	var domains []string
	var assign []string
	var addOutFiles, addOutURLs []string
	cmd := &cobra.Command{
		Use:   "update <code>",
		Short: "Update a task",
		Long:  "Applies a partial update. Attachments already on the task are kept; use --assign domain=dev1,dev2 to replace a domain's developer roster and --domain (repeatable) to replace the whole domain list.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{
				Code:    args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("assigned-to") {
				opts.AssignedTo = &assignedTo
			}
			if cmd.Flags().Changed("delivery-type") {
				opts.DeliveryType = &deliveryType
			}
			if cmd.Flags().Changed("platform-type") {
				opts.PlatformType = &platformType
			}
			if cmd.Flags().Changed("sample-volume") {
				opts.SampleVolume = &sampleVolume
			}
			if cmd.Flags().Changed("target-date") {
				opts.TargetDate = &targetDate
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("domain") {
				opts.Domains = &domains
			}
			if len(assign) > 0 {
				parsed, err := parseAssignments(assign)
				if err != nil {
					return err
				}
				opts.Developers = parsed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				prev, err := e.Repo.GetTask(ctx, opts.Code)
				if err != nil {
					return err
				}
				// partial updates never drop attachments from the CLI
				opts.SOW = engine.Preserve(prev.SOW)
				opts.Input = engine.Preserve(prev.Input)
				opts.ClientSchema = engine.Preserve(prev.ClientSchema)
				opts.Output = engine.Preserve(prev.Output)
				if len(addOutFiles) > 0 || len(addOutURLs) > 0 {
					added, err := storeAttachments(e.Store, addOutFiles, addOutURLs)
					if err != nil {
						return err
					}
					opts.Output.AddedFiles = added.Files
					opts.Output.AddedURLs = added.URLs
				}
				t, unknown, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				for _, name := range unknown {
					fmt.Fprintf(os.Stderr, "warning: no such domain %q\n", name)
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "responsible lead")
	cmd.Flags().StringVar(&deliveryType, "delivery-type", "", "delivery type")
	cmd.Flags().StringVar(&platformType, "platform-type", "", "platform type")
	cmd.Flags().StringVar(&sampleVolume, "sample-volume", "", "sample volume")
	cmd.Flags().StringVar(&targetDate, "target-date", "", "target date (RFC3339)")
	cmd.Flags().StringVar(&status, "status", "", "task status")
	cmd.Flags().StringArrayVar(&domains, "domain", []string{}, "replacement domain roster (repeatable)")
	cmd.Flags().StringArrayVar(&assign, "assign", []string{}, "domain=dev1,dev2 developer roster (repeatable)")
	cmd.Flags().StringArrayVar(&addOutFiles, "output-file", []string{}, "output file to store (repeatable)")
	cmd.Flags().StringArrayVar(&addOutURLs, "output-url", []string{}, "output URL (repeatable)")
	return cmd
}

func taskSubmitCmd() *cobra.Command {
	var domains []string
	var fields []string
	var payloadJSON string
	var outFiles, outURLs []string
	cmd := &cobra.Command{
		Use:   "submit <code>",
		Short: "Record a deliverable submission",
		Long:  "Submits the named domains (or the task itself when it has none). Pass submission fields as --field key=value; list fields accept comma-joined values.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := form.Payload{}
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
			}
			for _, kv := range fields {
				key, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --field %q, want key=value", kv)
				}
				payload[strings.TrimSpace(key)] = value
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				prev, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				added, err := storeAttachments(e.Store, outFiles, outURLs)
				if err != nil {
					return err
				}
				output := engine.AttachmentPatch{
					KeptSet:    true,
					AddedFiles: added.Files,
					AddedURLs:  added.URLs,
				}
				// keep whatever output the targets already carry
				if len(domains) == 0 {
					output.Kept = prev.Output.Refs()
				} else {
					for _, name := range domains {
						if d := prev.FindDomain(name); d != nil {
							output.Kept = append(output.Kept, d.Output.Refs()...)
						}
					}
				}
				t, unknown, err := e.Submit(ctx, engine.SubmitOptions{
					Code:    args[0],
					Domains: domains,
					Payload: payload,
					Output:  output,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				for _, name := range unknown {
					fmt.Fprintf(os.Stderr, "warning: no such domain %q\n", name)
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringArrayVar(&domains, "domain", []string{}, "domain to submit (repeatable)")
	cmd.Flags().StringArrayVar(&fields, "field", []string{}, "submission field key=value (repeatable)")
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "raw submission payload as JSON")
	cmd.Flags().StringArrayVar(&outFiles, "output-file", []string{}, "output file to store (repeatable)")
	cmd.Flags().StringArrayVar(&outURLs, "output-url", []string{}, "output URL (repeatable)")
	return cmd
}

func taskOverrideCmd() *cobra.Command {
	var reason, file string
	cmd := &cobra.Command{
		Use:   "override <code> <domain>",
		Short: "Manually move a domain to in-R&D",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(reason) == "" {
				return fmt.Errorf("--reason is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var upload *domain.UploadRecord
				if file != "" {
					rec, err := storeUpload(e.Store, file)
					if err != nil {
						return err
					}
					upload = rec
				}
				t, err := e.OverrideStatus(ctx, engine.OverrideOptions{
					Code:    args[0],
					Domain:  args[1],
					Reason:  reason,
					Upload:  upload,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the domain is on hold")
	cmd.Flags().StringVar(&file, "file", "", "evidence file to store")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func statsCmd() *cobra.Command {
	stats := &cobra.Command{Use: "stats", Short: "Workload statistics"}
	stats.AddCommand(statsStatusCmd())
	stats.AddCommand(statsDevelopersCmd())
	return stats
}

func statsStatusCmd() *cobra.Command {
	var developer string
	var mine bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Domain counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				if mine {
					developer = actorID
				}
				totals, err := e.StatusTotals(ctx, developer, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(totals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Domains"})
				statuses := make([]string, 0, len(totals))
				for s := range totals {
					statuses = append(statuses, s)
				}
				sort.Strings(statuses)
				for _, s := range statuses {
					tw.AppendRow(table.Row{s, totals[s]})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&developer, "developer", "", "restrict to one developer")
	cmd.Flags().BoolVar(&mine, "mine", false, "restrict to my domains")
	return cmd
}

func statsDevelopersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "developers",
		Short: "Per-developer workload summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				summaries, err := e.DeveloperSummaries(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(summaries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Developer", "Total", "By Status"})
				for _, s := range summaries {
					parts := make([]string, 0, len(s.ByStatus))
					for status, n := range s.ByStatus {
						parts = append(parts, fmt.Sprintf("%s=%d", status, n))
					}
					sort.Strings(parts)
					tw.AppendRow(table.Row{s.DeveloperID, s.Total, strings.Join(parts, " ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue domains delayed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.Sweep(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Marked %d domain(s) delayed\n", n)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, taskCode string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, taskCode, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&taskCode, "task", "", "task code filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.ResolveConfig(workspace)
			if err != nil {
				return err
			}
			e := app.NewEngine(conn, workspace, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("TASKLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("TASKLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Taskline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without a token (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, app.NewEngine(conn, workspace, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// storeAttachments reads local files into the content store and combines the
// resulting paths with the given URLs.
func storeAttachments(store attach.Store, files, urls []string) (domain.AttachmentSet, error) {
	var set domain.AttachmentSet
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return set, err
		}
		path, err := store.Save(data, filepath.Base(f))
		if err != nil {
			return set, err
		}
		set.Files = append(set.Files, path)
	}
	set.URLs = append(set.URLs, urls...)
	return set, nil
}

func storeUpload(store attach.Store, file string) (*domain.UploadRecord, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(file)
	path, err := store.Save(data, name)
	if err != nil {
		return nil, err
	}
	return &domain.UploadRecord{
		FileName:     filepath.Base(path),
		OriginalName: name,
		Path:         path,
		Size:         int64(len(data)),
		UploadedAt:   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// parseAssignments turns repeated "domain=dev1,dev2" flags into the engine's
// assignment map. "domain=" empties the roster.
func parseAssignments(in []string) (map[string][]string, error) {
	res := map[string][]string{}
	for _, raw := range in {
		name, devs, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --assign %q, want domain=dev1,dev2", raw)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid --assign %q, missing domain", raw)
		}
		var roster []string
		for _, dev := range strings.Split(devs, ",") {
			if trimmed := strings.TrimSpace(dev); trimmed != "" {
				roster = append(roster, trimmed)
			}
		}
		res[name] = roster
	}
	return res, nil
}
