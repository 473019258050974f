// Command info-diff compares the keyspace of two servers, typically a master
// and one of its replicas, using INFO keyspace and DEBUG DIGEST.
//
//	info-diff --ref localhost:6379 --sut localhost:6380
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		refAddr, sutAddr string
		password         string
		dbs              []int
		timeout          time.Duration
	)

	cmd := &cobra.Command{
		Use:          "info-diff",
		Short:        "Compare INFO keyspace and DEBUG DIGEST of two servers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			ref, err := fetchSnapshot(ctx, refAddr, password)
			if err != nil {
				return fmt.Errorf("reference %s: %w", refAddr, err)
			}
			sut, err := fetchSnapshot(ctx, sutAddr, password)
			if err != nil {
				return fmt.Errorf("system %s: %w", sutAddr, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Comparing %s (reference) with %s (system)\n\n", refAddr, sutAddr)
			diffs := compare(ref, sut, dbs)
			for _, d := range diffs {
				fmt.Fprintln(out, " ", d)
			}
			if len(diffs) > 0 {
				return fmt.Errorf("%d differences found", len(diffs))
			}
			fmt.Fprintln(out, "no differences found")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&refAddr, "ref", "", "reference endpoint (host:port)")
	flags.StringVar(&sutAddr, "sut", "", "system under test endpoint (host:port)")
	flags.StringVar(&password, "password", "", "password for both endpoints")
	flags.IntSliceVar(&dbs, "dbs", nil, "databases to compare (default all)")
	flags.DurationVar(&timeout, "timeout", 10*time.Second, "overall timeout")
	_ = cmd.MarkFlagRequired("ref")
	_ = cmd.MarkFlagRequired("sut")
	return cmd
}

// snapshot is what info-diff reads from one endpoint
type snapshot struct {
	keyspace KeyspaceInfo
	digest   string
}

func fetchSnapshot(ctx context.Context, addr, password string) (snapshot, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, Protocol: 2})
	defer client.Close()

	info, err := client.Info(ctx, "keyspace").Result()
	if err != nil {
		return snapshot{}, err
	}
	keyspace, err := parseKeyspaceInfo(info)
	if err != nil {
		return snapshot{}, err
	}

	// servers without DEBUG DIGEST are compared on INFO alone
	digest, _ := client.Do(ctx, "DEBUG", "DIGEST").Text()
	return snapshot{keyspace: keyspace, digest: digest}, nil
}
