package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"esroot/domain/identity"
	"esroot/errors"
	"esroot/eventing/store"
	"esroot/examples/item"
	"esroot/messaging/command"
)

// NewItemCommand item 子命令组
func NewItemCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Create, rename, delete and inspect items",
	}
	cmd.AddCommand(
		newItemCreateCommand(rootOpts),
		newItemRenameCommand(rootOpts),
		newItemDeleteCommand(rootOpts),
		newItemShowCommand(rootOpts),
		newItemHistoryCommand(rootOpts),
	)
	return cmd
}

func newItemCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an item",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				c := item.NewCreateItem(args[0])
				if id != "" {
					parsed, err := identity.ParseUUID(id)
					if err != nil {
						return err
					}
					c = item.NewCreateItemWithID(parsed, args[0])
				}
				it, err := dispatch(ctx, app, c)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s name=%q\n", it.ID(), it.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "item id (generated when empty)")
	return cmd
}

func newItemRenameCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename an item",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.ParseUUID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				it, err := dispatch(ctx, app, item.NewRenameItem(id, args[1]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "renamed %s name=%q\n", it.ID(), it.Name)
				return nil
			})
		},
	}
}

func newItemDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an item (appends a tombstone)",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.ParseUUID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				it, err := dispatch(ctx, app, item.NewDeleteItem(id))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", it.ID())
				return nil
			})
		},
	}
}

func newItemShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show the current state of an item",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.ParseUUID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				it, err := app.Repository.FindByID(ctx, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id:      %s\n", it.ID())
				fmt.Fprintf(out, "name:    %s\n", it.Name)
				fmt.Fprintf(out, "version: %d\n", it.PersistedVersion())
				fmt.Fprintf(out, "deleted: %t\n", it.IsDeleted())
				return nil
			})
		},
	}
}

func newItemHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var reverse bool
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Print the event history of an item",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.ParseUUID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				find := store.FindEvents
				if reverse {
					find = store.FindEventsReversed
				}
				events, err := find(ctx, app.Store, item.AggregateType, id.String())
				if err != nil {
					return err
				}
				if len(events) == 0 {
					return errors.NewError(errors.ErrCodeNotFound, "item "+id.String()+" not found")
				}
				return item.RenderHistory(cmd.OutOrStdout(), events)
			})
		},
	}
	cmd.Flags().BoolVar(&reverse, "reverse", false, "most recent event first")
	return cmd
}

// dispatch 分发单条命令并返回处理后的 Item；异步模式下先排空分发队列
func dispatch(ctx context.Context, app *App, c *command.Command) (*item.Item, error) {
	if err := app.Dispatcher.Dispatch(ctx, []*command.Command{c}); err != nil {
		return nil, err
	}
	if app.Config.Dispatch.Mode == "async" {
		if err := app.Drain(); err != nil {
			return nil, err
		}
	}
	it := app.Manager.Current()
	if it == nil {
		return nil, errors.NewError(errors.ErrCodeInternal,
			fmt.Sprintf("command %s was not applied; see log", c.Type))
	}
	return it, nil
}
