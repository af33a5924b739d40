package kv

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dWatch/cmd/util"
	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/keys"
	"github.com/ValentinKolb/dWatch/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key parts...] [value]",
		Short: "Sets the value for a (grouped) key",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parts := util.KeyParts(args[:len(args)-1])
			value := args[len(args)-1]
			version, err := rpcClient.Put(cmd.Context(), util.GetRangeRef(), parts, []byte(value))
			if err != nil {
				return err
			}
			fmt.Printf("put successfully, version=%d\n", version)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key parts...]",
		Short: "Reads the records of a key, a key prefix or a list of keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := rpcClient.Get(cmd.Context(), util.GetRangeRef(), util.KeyParts(args), client.GetOptions{
				Prefix: viper.GetBool("prefix"),
				Multi:  viper.GetBool("multi"),
				Limit:  viper.GetUint32("limit"),
			})
			if err != nil {
				return err
			}
			fmt.Printf("found=%d\n", len(records))
			printRecords(records)
			return nil
		},
	}
	watchCmd = &cobra.Command{
		Use:   "watch [key parts...]",
		Short: "Waits until a key, a key prefix or one of a list of keys changes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := client.WatchOptions{
				Prefix:       viper.GetBool("prefix"),
				Multi:        viper.GetBool("multi"),
				StartVersion: viper.GetUint64("start-version"),
				LongPull:     viper.GetDuration("long-pull"),
				WatchID:      viper.GetUint64("watch-id"),
			}
			ref := util.GetRangeRef()

			if viper.GetBool("follow") {
				return rpcClient.Follow(cmd.Context(), ref, util.KeyParts(args), opts, func(res client.WatchResult) error {
					fmt.Printf("watch=%d, version=%d\n", res.WatchID, res.Version)
					printRecords(res.Records)
					return nil
				})
			}

			res, err := rpcClient.Watch(cmd.Context(), ref, util.KeyParts(args), opts)
			if err != nil {
				return err
			}
			if res.Timeout {
				fmt.Printf("watch=%d, timeout (nothing changed)\n", res.WatchID)
				return nil
			}
			fmt.Printf("watch=%d, version=%d\n", res.WatchID, res.Version)
			printRecords(res.Records)
			return nil
		},
	}
	cancelCmd = &cobra.Command{
		Use:   "cancel [watch id]",
		Short: "Cancels a pending watch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			watchID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("watch id must be a number: %w", err)
			}
			ok, err := rpcClient.Cancel(cmd.Context(), util.GetRangeRef().RangeID, watchID)
			if err != nil {
				return err
			}
			fmt.Printf("watch=%d, canceled=%t\n", watchID, ok)
			return nil
		},
	}
)

func init() {
	key := "prefix"
	getCmd.Flags().Bool(key, false, util.WrapString("Treat the key parts as a key prefix"))
	watchCmd.Flags().Bool(key, false, util.WrapString("Treat the key parts as a key prefix"))

	key = "multi"
	getCmd.Flags().Bool(key, false, util.WrapString("Treat every key part as a key of its own"))
	watchCmd.Flags().Bool(key, false, util.WrapString("Treat every key part as a key of its own (the first change wins)"))

	key = "limit"
	getCmd.Flags().Uint32(key, 0, util.WrapString("Max records of a prefix read (0 = unbounded)"))

	key = "start-version"
	watchCmd.Flags().Uint64(key, 0, util.WrapString("The last version already seen. Records with a higher version answer the watch at once"))

	key = "long-pull"
	watchCmd.Flags().Duration(key, client.DefaultLongPull, util.WrapString("How long the server holds the watch before it answers with a timeout"))

	key = "watch-id"
	watchCmd.Flags().Uint64(key, 0, util.WrapString("Id of the pending watch, lets 'kv cancel' drop it from another shell (0 = random)"))

	key = "follow"
	watchCmd.Flags().Bool(key, false, util.WrapString("Keep watching and print every change until interrupted"))
}

// printRecords prints the records with their decoded key parts
func printRecords(records []db.Record) {
	for _, r := range records {
		fmt.Printf("  key=%s, version=%d, value=%s\n", formatKey(r.Key), r.Version, r.Value)
	}
}

// formatKey returns the decoded parts of an encoded key joined by '/', or the hex form of undecodable keys
func formatKey(encoded []byte) string {
	key, _, err := keys.Decode(encoded)
	if err != nil {
		return fmt.Sprintf("%x", encoded)
	}
	parts := make([]string, len(key.Parts))
	for i, p := range key.Parts {
		parts[i] = string(p)
	}
	return fmt.Sprintf("%d:%s", key.TableID, strings.Join(parts, "/"))
}

// elapsed formats the time since start for the perf output
func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
