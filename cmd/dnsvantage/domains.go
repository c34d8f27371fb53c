package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mekleo/dnsvantage/internal/domain"
	"github.com/mekleo/dnsvantage/pkg/logger"
)

var addCmd = &cobra.Command{
	Use:   "add DOMAIN...",
	Short: "Track one or more domains",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

var removeCmd = &cobra.Command{
	Use:     "remove DOMAIN...",
	Aliases: []string{"rm"},
	Short:   "Stop tracking one or more domains",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runRemove,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show tracked domains and their statistics",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

func runAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.New("dnsvantage", cfg.LogLevel)
	ctx := cmd.Context()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	existing, err := store.LoadDomains(ctx)
	if err != nil {
		return err
	}
	tracked := make(map[string]struct{}, len(existing))
	for _, d := range existing {
		tracked[d.Name()] = struct{}{}
	}

	var fresh []*domain.Domain
	for _, name := range args {
		name = normalizeDomain(name)
		if name == "" {
			continue
		}
		if _, ok := tracked[name]; ok {
			log.Debug("domain already tracked", "domain", name)
			continue
		}
		tracked[name] = struct{}{}
		fresh = append(fresh, domain.New(name))
	}
	if len(fresh) == 0 {
		fmt.Println("nothing to add")
		return nil
	}
	if err := store.AddDomains(ctx, fresh); err != nil {
		return err
	}
	for _, d := range fresh {
		fmt.Printf("added %s (rank %d)\n", d.Name(), d.Rank())
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.New("dnsvantage", cfg.LogLevel)
	ctx := cmd.Context()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	names := make([]string, 0, len(args))
	for _, name := range args {
		if name = normalizeDomain(name); name != "" {
			names = append(names, name)
		}
	}
	if err := store.DeleteDomains(ctx, names); err != nil {
		return err
	}
	for _, name := range names {
		fmt.Printf("removed %s\n", name)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.New("dnsvantage", cfg.LogLevel)
	ctx := cmd.Context()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	domains, err := store.LoadDomains(ctx)
	if err != nil {
		return err
	}
	if len(domains) == 0 {
		fmt.Println("no tracked domains")
		return nil
	}
	fmt.Printf("RANK\tNAME\tAVG_MS\tSTDDEV_MS\tCOUNT\tLAST\n")
	for _, d := range domains {
		st := d.Stats()
		last := "-"
		if st.TimeLast > 0 {
			last = time.Unix(st.TimeLast, 0).UTC().Format(time.RFC3339)
		}
		fmt.Printf("%d\t%s\t%.3f\t%.3f\t%d\t%s\n",
			st.Rank, st.Name, st.QueryTimeAvg, st.QueryTimeStdDev, st.QueryCount, last)
	}
	return nil
}

func normalizeDomain(name string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(name), "."))
}
