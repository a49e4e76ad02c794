package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskboard-live/backend/internal/model"
	"github.com/taskboard-live/backend/pkg/gateway"
	"github.com/taskboard-live/backend/pkg/protocol"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print board activity and presence until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			g, err := openBoard(ctx,
				gateway.WithStatusListener(func(s gateway.Status) {
					fmt.Printf("status: %s\n", s)
				}),
				gateway.WithRosterListener(func(roster []model.Participant) {
					names := make([]string, 0, len(roster))
					for _, p := range roster {
						names = append(names, p.Name)
					}
					fmt.Printf("online: %s\n", strings.Join(names, ", "))
				}),
				gateway.WithTypingListener(func(p model.Participant) {
					fmt.Printf("%s is typing...\n", p.Name)
				}),
			)
			if err != nil {
				return err
			}
			defer g.Close()

			printBoard(g)
			<-ctx.Done()
			return nil
		},
	}
}

func createTaskCmd() *cobra.Command {
	var task model.Task
	var priority, status string

	cmd := &cobra.Command{
		Use:   "create-task",
		Short: "Create a task on the board",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			g, err := openBoard(ctx)
			if err != nil {
				return err
			}
			defer g.Close()

			task.Priority = model.TaskPriority(priority)
			task.Status = model.TaskStatus(status)
			since := time.Now()
			created, err := g.CreateTask(ctx, &task)
			if err != nil {
				return err
			}
			return settle(g, created.ID, since)
		},
	}

	cmd.Flags().StringVarP(&task.Title, "title", "t", "", "task title")
	cmd.Flags().StringVarP(&task.Description, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&task.Assignee, "assignee", "a", "", "assignee")
	cmd.Flags().StringSliceVar(&task.Tags, "tag", nil, "tags")
	cmd.Flags().StringVarP(&priority, "priority", "p", string(model.TaskPriorityMedium), "low, medium or high")
	cmd.Flags().StringVarP(&status, "status", "s", string(model.TaskStatusQueue), "queue, in-progress or done")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func moveTaskCmd() *cobra.Command {
	var dest string
	var index int

	cmd := &cobra.Command{
		Use:   "move-task [task-id]",
		Short: "Move a task to another column or position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			g, err := openBoard(ctx)
			if err != nil {
				return err
			}
			defer g.Close()

			taskID := args[0]
			col, at := g.Store().Snapshot().Board.Locate(taskID)
			if col == nil {
				return fmt.Errorf("task %s is not on board %s", taskID, opts.boardID)
			}
			since := time.Now()
			err = g.MoveTask(ctx, taskID,
				protocol.Location{DroppableID: col.ID, Index: at},
				protocol.Location{DroppableID: dest, Index: index})
			if err != nil {
				return err
			}
			return settle(g, taskID, since)
		},
	}

	cmd.Flags().StringVar(&dest, "to", "", "destination column ID")
	cmd.Flags().IntVar(&index, "index", 0, "position in the destination column")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func deleteTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-task [task-id]",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			g, err := openBoard(ctx)
			if err != nil {
				return err
			}
			defer g.Close()

			since := time.Now()
			if err := g.DeleteTask(ctx, args[0]); err != nil {
				return err
			}
			return settle(g, args[0], since)
		},
	}
}

// printBoard prints each column with its tasks in order.
func printBoard(g *gateway.Gateway) {
	snap := g.Store().Snapshot()
	order := snap.Board.ColumnOrder
	if len(order) == 0 {
		for _, col := range snap.Board.Columns {
			order = append(order, col.ID)
		}
	}
	for _, id := range order {
		col := snap.Board.Column(id)
		if col == nil {
			continue
		}
		fmt.Printf("== %s (%d)\n", col.Title, len(col.TaskIDs))
		for _, taskID := range col.TaskIDs {
			if t, ok := snap.Tasks[taskID]; ok {
				fmt.Printf("  %s  %-40s %s\n", t.ID, t.Title, t.Priority)
			}
		}
	}

	var orphans []string
	for id := range snap.Tasks {
		if c, _ := snap.Board.Locate(id); c == nil {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		sort.Strings(orphans)
		fmt.Printf("== unlisted: %s\n", strings.Join(orphans, ", "))
	}
}
