package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/internal/auth"
	"github.com/frahmantamala/expense-claims/internal/backend"
	"github.com/frahmantamala/expense-claims/internal/expense"
	"github.com/frahmantamala/expense-claims/internal/storage"
	"github.com/frahmantamala/expense-claims/pkg/logger"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
)

const defaultBackendURL = "http://localhost:8080"

var (
	sessionPath   string
	loginEmail    string
	loginPassword string

	listStatus   string
	listPayment  string
	listCategory string
	listSearch   string
	listPages    int

	claimForm    expense.ClaimInput
	receiptPath  string
	changedField = map[string]*string{}

	approveNotes string
	rejectReason string
)

// clientApp is the signed-in command line client.
type clientApp struct {
	session  *auth.Session
	workflow *expense.Workflow
}

func newClientApp() (*clientApp, error) {
	cfg := appConfig
	lg := logger.LoggerWrapper()

	baseURL := cfg.Backend.BaseURL
	if baseURL == "" {
		baseURL = defaultBackendURL
	}
	api := backend.NewClient(baseURL, cfg.Backend.RequestTimeout, lg)

	path, err := resolveSessionPath()
	if err != nil {
		return nil, err
	}
	session := auth.NewSession(api, api, auth.FileStore{Path: path})
	if err := session.Restore(); err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	api.WithTokens(session)

	var uploader storage.Uploader
	if cfg.Storage.Provider == "http" {
		uploader = storage.WithGuard(
			storage.NewHTTPUploader(cfg.Storage.UploadURL, cfg.Storage.Timeout, lg),
			storage.NewGuard(cfg.Receipts),
		)
	}

	rules := expense.NewRules(cfg.Policy)
	lifecycle := expense.NewLifecycle(auth.NewPolicy(rules.Thresholds()))
	workflow := expense.NewWorkflow(api, uploader, session, rules, lifecycle, expense.NewState(api, expense.DefaultPerPage), lg)
	return &clientApp{session: session, workflow: workflow}, nil
}

func resolveSessionPath() (string, error) {
	if sessionPath != "" {
		return sessionPath, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot locate config dir, pass --session: %w", err)
	}
	return filepath.Join(dir, "expense-claims", "session.json"), nil
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the claims backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newClientApp()
		if err != nil {
			return err
		}
		password := loginPassword
		if password == "" {
			password = os.Getenv("EXPENSE_CLAIMS_PASSWORD")
		}
		u, err := app.session.Login(cmd.Context(), loginEmail, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", u.Name, u.Role)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newClientApp()
		if err != nil {
			return err
		}
		return app.session.Logout()
	},
}

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Work with expense claims",
}

var listClaimsCmd = &cobra.Command{
	Use:   "list",
	Short: "List claims visible to you",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newClientApp()
		if err != nil {
			return err
		}
		state := app.workflow.State()
		err = state.SetFilters(cmd.Context(), expense.Filters{
			Status:        expense.Status(listStatus),
			PaymentStatus: expense.PaymentStatus(listPayment),
			Category:      listCategory,
			Search:        listSearch,
		})
		if err != nil {
			return err
		}
		for i := 1; i < listPages && state.PageInfo().HasMore; i++ {
			if err := state.LoadMore(cmd.Context()); err != nil {
				return err
			}
		}
		return printClaims(cmd.OutOrStdout(), state.Claims(), state.PageInfo())
	},
}

var getClaimCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one claim and the actions you may take on it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseClaimID(args[0])
		if err != nil {
			return err
		}
		app, err := newClientApp()
		if err != nil {
			return err
		}
		claim, err := app.workflow.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), struct {
			expense.ClaimView
			Actions []auth.Action `json:"actions"`
		}{expense.ToView(claim), app.workflow.ActionsFor(claim)})
	},
}

var submitClaimCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new claim",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newClientApp()
		if err != nil {
			return err
		}
		in := claimForm
		if receiptPath != "" {
			if in.Receipt, err = app.uploadReceipt(cmd, receiptPath); err != nil {
				return err
			}
		}
		if _, err := app.workflow.Categories(cmd.Context()); err != nil {
			return err
		}
		claim, err := app.workflow.Submit(cmd.Context(), in)
		if err != nil {
			return describe(cmd.ErrOrStderr(), err)
		}
		return printJSON(cmd.OutOrStdout(), expense.ToView(claim))
	},
}

var updateClaimCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a claim that is still pending approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseClaimID(args[0])
		if err != nil {
			return err
		}
		app, err := newClientApp()
		if err != nil {
			return err
		}

		var in expense.UpdateClaimInput
		for name, target := range map[string]**string{
			"description":  &in.Description,
			"amount":       &in.Amount,
			"currency":     &in.Currency,
			"category":     &in.Category,
			"expense-date": &in.ExpenseDate,
		} {
			if cmd.Flags().Changed(name) {
				*target = changedField[name]
			}
		}
		if receiptPath != "" {
			if in.Receipt, err = app.uploadReceipt(cmd, receiptPath); err != nil {
				return err
			}
		}

		if _, err := app.workflow.Get(cmd.Context(), id); err != nil {
			return err
		}
		claim, err := app.workflow.Update(cmd.Context(), id, in)
		if err != nil {
			return describe(cmd.ErrOrStderr(), err)
		}
		return printJSON(cmd.OutOrStdout(), expense.ToView(claim))
	},
}

// transitionCmd builds approve, reject and retry. The claim is loaded
// first so the lifecycle guards run before the request is sent.
func transitionCmd(use, short string, run func(app *clientApp, cmd *cobra.Command, id int64) (*expense.Claim, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseClaimID(args[0])
			if err != nil {
				return err
			}
			app, err := newClientApp()
			if err != nil {
				return err
			}
			if _, err := app.workflow.Get(cmd.Context(), id); err != nil {
				return err
			}
			claim, err := run(app, cmd, id)
			if err != nil {
				return describe(cmd.ErrOrStderr(), err)
			}
			return printJSON(cmd.OutOrStdout(), expense.ToView(claim))
		},
	}
}

var approveClaimCmd = transitionCmd("approve", "Approve a pending claim", func(app *clientApp, cmd *cobra.Command, id int64) (*expense.Claim, error) {
	return app.workflow.Approve(cmd.Context(), id, approveNotes)
})

var rejectClaimCmd = transitionCmd("reject", "Reject a pending claim with a reason", func(app *clientApp, cmd *cobra.Command, id int64) (*expense.Claim, error) {
	return app.workflow.Reject(cmd.Context(), id, rejectReason)
})

var retryPaymentCmd = transitionCmd("retry", "Retry a failed payment", func(app *clientApp, cmd *cobra.Command, id int64) (*expense.Claim, error) {
	return app.workflow.RetryPayment(cmd.Context(), id)
})

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the active expense categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newClientApp()
		if err != nil {
			return err
		}
		cats, err := app.workflow.Categories(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION")
		for _, c := range cats {
			fmt.Fprintf(w, "%s\t%s\n", c.Name, c.Description)
		}
		return w.Flush()
	},
}

func (a *clientApp) uploadReceipt(cmd *cobra.Command, path string) (*expense.ReceiptInput, error) {
	if appConfig.Storage.Provider != "http" {
		return nil, errors.New("receipt uploads need storage.provider=http and storage.upload_url")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt: %w", err)
	}
	receipt, err := a.workflow.UploadReceipt(cmd.Context(), data, mimetype.Detect(data).String())
	if err != nil {
		return nil, describe(cmd.ErrOrStderr(), err)
	}
	return receipt, nil
}

func parseClaimID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid claim id %q", raw)
	}
	return id, nil
}

// describe prints field errors one per line and returns err unchanged.
func describe(w io.Writer, err error) error {
	appErr, ok := internal.IsAppError(err)
	if !ok || appErr.Details == nil {
		return err
	}
	if details, ok := appErr.Details.(internal.ValidationErrors); ok {
		for _, fe := range details.Errors {
			fmt.Fprintf(w, "  %s: %s\n", fe.Field, fe.Message)
		}
	}
	return err
}

func printClaims(out io.Writer, claims []expense.Claim, info expense.PageInfo) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tCATEGORY\tAMOUNT\tSTATUS\tPAYMENT\tDESCRIPTION")
	for _, c := range claims {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.ExpenseDate.Format(expense.DateLayout), c.Category, c.Amount,
			c.Status, c.PaymentStatus, c.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n%d of %d claims\n", len(claims), info.Total)
	return err
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, logoutCmd, claimsCmd} {
		c.PersistentFlags().StringVar(&sessionPath, "session", "", "session file (default: user config dir)")
	}

	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "account email")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password (or EXPENSE_CLAIMS_PASSWORD)")
	_ = loginCmd.MarkFlagRequired("email")

	listClaimsCmd.Flags().StringVar(&listStatus, "status", "", "pending_approval, auto_approved, approved or rejected")
	listClaimsCmd.Flags().StringVar(&listPayment, "payment", "", "pending, processing, paid or failed")
	listClaimsCmd.Flags().StringVar(&listCategory, "category", "", "category name")
	listClaimsCmd.Flags().StringVarP(&listSearch, "search", "s", "", "text in the description")
	listClaimsCmd.Flags().IntVar(&listPages, "pages", 1, "number of pages to load")

	submitClaimCmd.Flags().StringVarP(&claimForm.Description, "description", "d", "", "what the expense was for")
	submitClaimCmd.Flags().StringVarP(&claimForm.Amount, "amount", "a", "", "amount, e.g. 150000")
	submitClaimCmd.Flags().StringVar(&claimForm.Currency, "currency", "", "currency code (default from policy)")
	submitClaimCmd.Flags().StringVar(&claimForm.Category, "category", "", "expense category")
	submitClaimCmd.Flags().StringVar(&claimForm.ExpenseDate, "date", "", "expense date, YYYY-MM-DD")
	submitClaimCmd.Flags().StringVar(&receiptPath, "receipt", "", "receipt file to upload")

	for _, name := range []string{"description", "amount", "currency", "category", "expense-date"} {
		v := new(string)
		changedField[name] = v
		updateClaimCmd.Flags().StringVar(v, name, "", "new "+name)
	}
	updateClaimCmd.Flags().StringVar(&receiptPath, "receipt", "", "replacement receipt file")

	approveClaimCmd.Flags().StringVar(&approveNotes, "notes", "", "approval notes")
	rejectClaimCmd.Flags().StringVarP(&rejectReason, "reason", "r", "", "why the claim is rejected")

	claimsCmd.AddCommand(listClaimsCmd, getClaimCmd, submitClaimCmd, updateClaimCmd,
		approveClaimCmd, rejectClaimCmd, retryPaymentCmd, categoriesCmd)
}
