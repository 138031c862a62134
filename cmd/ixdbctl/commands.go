package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"

	"github.com/andreyvit/ixdb"
)

type cmdStats struct{}

func (cmd *cmdStats) Execute([]string) error {
	st, _, err := openStorage()
	if err != nil {
		return err
	}
	defer st.Close()
	return printStats(st)
}

func printStats(st ixdb.Storage) error {
	tables, err := ixdb.DescribeStorage(st)
	if err != nil {
		return err
	}
	var table = tablewriter.NewWriter(stdout)
	table.Header("Table", "Rows", "Index Entries", "Blob Chunks", "Alloc")
	for _, t := range tables {
		idx := t.Entries(ixdb.SecondaryTable.String()) + t.Entries(ixdb.RelationalTable.String()) + t.Entries(ixdb.SubscriptionTable.String())
		err := table.Append([]string{
			t.Name,
			strconv.Itoa(t.Rows),
			strconv.Itoa(idx),
			strconv.Itoa(t.Entries(ixdb.BlobTable.String())),
			strconv.FormatInt(t.Alloc, 10),
		})
		if err != nil {
			return err
		}
	}
	return table.Render()
}

type cmdDump struct {
	Limit int `long:"limit" short:"n" default:"0" description:"Maximum number of rows to print, 0 for all."`
	Args  struct {
		Table string `positional-arg-name:"TABLE" required:"yes"`
	} `positional-args:"yes"`
}

func (cmd *cmdDump) Execute([]string) error {
	st, _, err := openStorage()
	if err != nil {
		return err
	}
	defer st.Close()
	return ixdb.DumpStorage(stdout, st, cmd.Args.Table, cmd.Limit)
}

type cmdCheck struct{}

func (cmd *cmdCheck) Execute([]string) error {
	st, logger, err := openStorage()
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := checkAll(context.Background(), st)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%d problems found", n)
	}
	logger.Info("no problems found")
	return nil
}

// checkAll checks tables concurrently and prints the problems found.
func checkAll(ctx context.Context, st ixdb.Storage) (int, error) {
	names, err := ixdb.StorageTables(st)
	if err != nil {
		return 0, err
	}
	var mu sync.Mutex
	var total int
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			problems, err := ixdb.CheckTable(st, name)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, p := range problems {
				fmt.Fprintln(stdout, p.String())
			}
			total += len(problems)
			return nil
		})
	}
	err = g.Wait()
	return total, err
}
