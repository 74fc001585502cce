// Package main provides the coach terminal client.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ashureev/goalcoach/internal/client"
	"github.com/ashureev/goalcoach/internal/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const appName = "coach"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	server  string
	userID  string
	timeout time.Duration
}

func (g *globalFlags) client() *client.Client {
	return client.New(g.server, nil)
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Turn a social skills goal into a step-by-step plan",
		Long: `coach talks to a goalcoach server. Pick one of three coaches,
answer a few questions and get a personalised action plan.`,
		SilenceUsage: true,
	}

	defaultServer := os.Getenv("GOALCOACH_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVar(&g.server, "server", defaultServer, "goalcoach server URL")
	cmd.PersistentFlags().StringVarP(&g.userID, "user", "u", os.Getenv("GOALCOACH_USER"), "user id (a new one is generated when empty)")
	cmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 60*time.Second, "request timeout")

	cmd.AddCommand(chatCmd(g), planCmd(g), plansCmd(g), personasCmd(g))
	return cmd
}

func chatCmd(g *globalFlags) *cobra.Command {
	var (
		goal  string
		delay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive coaching session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.userID == "" {
				g.userID = uuid.NewString()
			}
			model := tui.New(g.client(), tui.Options{
				UserID:          g.userID,
				Goal:            goal,
				TransitionDelay: delay,
				RequestTimeout:  g.timeout,
			})
			if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
				return fmt.Errorf("run session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session saved for user %s\n", g.userID)
			return nil
		},
	}
	cmd.Flags().StringVar(&goal, "goal", "", "goal name sent with the first message")
	cmd.Flags().DurationVar(&delay, "delay", 2*time.Second, "pause before the plan is generated")
	return cmd
}

func planCmd(g *globalFlags) *cobra.Command {
	var asHTML bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the latest saved plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.userID == "" {
				return errors.New("--user is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			c := g.client()
			if asHTML {
				html, err := c.PlanHTML(ctx, g.userID)
				if err != nil {
					return notFound(err)
				}
				_, err = io.WriteString(cmd.OutOrStdout(), html)
				return err
			}
			rec, err := c.LatestPlan(ctx, g.userID)
			if err != nil {
				return notFound(err)
			}
			return tui.PrintPlan(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().BoolVar(&asHTML, "html", false, "print the rendered HTML page")
	return cmd
}

func plansCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List every saved plan, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.userID == "" {
				return errors.New("--user is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			plans, err := g.client().Plans(ctx, g.userID)
			if err != nil {
				return err
			}
			if len(plans) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no plans saved yet")
				return nil
			}
			for _, rec := range plans {
				done, total := rec.Plan.Progress()
				status := ""
				if rec.Accepted {
					status = " accepted"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-40s %d/%d steps%s\n",
					rec.CreatedAt.Format("2006-01-02"), rec.Plan.Title, done, total, status)
			}
			return nil
		},
	}
}

func personasCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List the available coaches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			personas, err := g.client().Personas(ctx)
			if err != nil {
				return err
			}
			for _, p := range personas {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", p.Name, p.Welcome)
			}
			return nil
		},
	}
}

func notFound(err error) error {
	if errors.Is(err, client.ErrNotFound) {
		return errors.New("no plan saved yet, run `coach chat` first")
	}
	return err
}
