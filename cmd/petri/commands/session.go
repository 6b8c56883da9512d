package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"petri/internal/app"
	"petri/pkg/domain"
)

func newLoginCmd(rt *runtime) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Sign in to the tree service",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			user, err := a.Session.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			return rt.printUser(cmd, "Signed in as", user)
		}),
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRegisterCmd(rt *runtime) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "register <email> <username>",
		Short: "Create an account and sign in",
		Args:  cobra.ExactArgs(2),
		RunE: rt.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			user, err := a.Session.Register(cmd.Context(), args[0], password, args[1])
			if err != nil {
				return err
			}
			return rt.printUser(cmd, "Registered", user)
		}),
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and delete all local tree data",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, a *app.App, _ []string) error {
			if err := a.Session.Logout(cmd.Context()); err != nil {
				return err
			}
			if rt.jsonOut {
				return rt.printJSON(cmd, domain.ResultOf(nil))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		}),
	}
}

func newStatusCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the signed-in user and local tree count",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, a *app.App, _ []string) error {
			user, ok := a.Session.CurrentUser()
			trees := len(a.Sync.Trees())
			if rt.jsonOut {
				return rt.printJSON(cmd, struct {
					Authenticated bool         `json:"authenticated"`
					User          *domain.User `json:"user,omitempty"`
					Trees         int          `json:"trees"`
					API           string       `json:"api"`
				}{a.Session.IsAuthenticated(), userPtr(user, ok), trees, a.Config.API.BaseURL})
			}
			out := cmd.OutOrStdout()
			if !a.Session.IsAuthenticated() {
				fmt.Fprintln(out, "Not signed in")
			} else {
				fmt.Fprintf(out, "Signed in as %s (id %d)\n", user.Name(), user.ID)
			}
			fmt.Fprintf(out, "%d trees stored locally, service %s\n", trees, a.Config.API.BaseURL)
			return nil
		}),
	}
}

func (rt *runtime) printUser(cmd *cobra.Command, verb string, user domain.User) error {
	if rt.jsonOut {
		return rt.printJSON(cmd, struct {
			domain.Result
			User domain.User `json:"user"`
		}{domain.ResultOf(nil), user})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, user.Name())
	return nil
}

func userPtr(u domain.User, ok bool) *domain.User {
	if !ok {
		return nil
	}
	return &u
}
