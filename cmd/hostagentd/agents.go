package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hostagent/discovery"
)

var (
	flagEndpoints []string
	flagWatch     bool
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents announced in the discovery directory",
	Args:  cobra.NoArgs,
	RunE:  runAgents,
}

func init() {
	agentsCmd.Flags().StringSliceVar(&flagEndpoints, "endpoints", nil, "etcd endpoints of the agent directory")
	agentsCmd.Flags().BoolVar(&flagWatch, "watch", false, "keep printing the agent list as it changes")
	agentsCmd.MarkFlagRequired("endpoints")
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, _ []string) error {
	dir, err := discovery.NewEtcdDirectory(flagEndpoints)
	if err != nil {
		return fmt.Errorf("connect to discovery endpoints: %w", err)
	}
	defer dir.Close()

	agents, err := dir.Agents()
	if err != nil {
		return err
	}
	printAgents(agents)

	if !flagWatch {
		return nil
	}
	for agents := range dir.Watch() {
		fmt.Println("---")
		printAgents(agents)
	}
	return nil
}

func printAgents(agents []discovery.Agent) {
	if len(agents) == 0 {
		fmt.Println("no agents announced")
		return
	}
	for _, a := range agents {
		if a.Hostname != "" {
			fmt.Printf("%s\t%s\n", a.Addr, a.Hostname)
		} else {
			fmt.Println(a.Addr)
		}
	}
}
