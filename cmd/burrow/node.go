package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
)

// defaultAgentPort is where agents listen unless configured otherwise
const defaultAgentPort = 8080

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage fleet nodes",
	Long: `Manage fleet nodes in the coordinator's data directory.

Node records live in a single-writer database, so these commands are meant
for a stopped coordinator or a copy of its data directory.`,
}

var nodeAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Provision a node and print its bootstrap token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverIP, _ := cmd.Flags().GetString("server-ip")
		location, _ := cmd.Flags().GetString("location")
		description, _ := cmd.Flags().GetString("description")
		features, err := featuresFromFlags(cmd)
		if err != nil {
			return err
		}

		mgr, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer mgr.Shutdown()

		node, err := mgr.ProvisionNode(manager.NodeSpec{
			Name:        args[0],
			ServerIP:    serverIP,
			Location:    location,
			Description: description,
			Features:    features,
		})
		if err != nil {
			return fmt.Errorf("failed to provision node: %w", err)
		}

		fmt.Printf("✓ Node provisioned: %s\n", node.Name)
		fmt.Printf("  ID: %d\n", node.ID)
		fmt.Printf("  Token: %s\n", node.Token)
		fmt.Println()
		fmt.Println("Start the agent on the node with:")
		fmt.Printf("  NODE_UUID=%s MASTER_DOMAIN=<coordinator address> burrow agent run\n", node.Token)
		return nil
	},
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer mgr.Shutdown()

		nodes, err := mgr.ListNodes()
		if err != nil {
			return fmt.Errorf("failed to list nodes: %w", err)
		}

		if len(nodes) == 0 {
			fmt.Println("No nodes found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSERVER IP\tSTATUS\tPROXY\tLAST SEEN")
		for _, n := range nodes {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				n.ID, n.Name, n.ServerIP, n.Status, n.XrayStatus, lastSeen(n))
		}
		return w.Flush()
	},
}

var nodeShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show node details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseNodeID(args[0])
		if err != nil {
			return err
		}

		mgr, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer mgr.Shutdown()

		node, err := mgr.GetNode(id)
		if err != nil {
			return fmt.Errorf("failed to get node: %w", err)
		}

		fmt.Printf("Node: %s\n", node.Name)
		fmt.Printf("  ID: %d\n", node.ID)
		fmt.Printf("  Server IP: %s\n", node.ServerIP)
		if node.Location != "" {
			fmt.Printf("  Location: %s\n", node.Location)
		}
		if node.Description != "" {
			fmt.Printf("  Description: %s\n", node.Description)
		}
		fmt.Printf("  Status: %s\n", node.Status)
		fmt.Printf("  Proxy: %s\n", node.XrayStatus)
		fmt.Printf("  Last Seen: %s\n", lastSeen(node))
		fmt.Printf("  Hidden Path: %s\n", security.HiddenPath(node.Token))
		fmt.Printf("  Features: vless=%t splithttp=%t hysteria2=%t max_users=%d\n",
			node.Features.EnableVLESS, node.Features.EnableSplitHTTP,
			node.Features.EnableHysteria2, node.Features.MaxUsers)
		if len(node.LastStats) > 0 {
			fmt.Printf("  Last Stats: %s\n", node.LastStats)
		}
		fmt.Printf("  Created: %s\n", node.CreatedAt.Format(time.RFC3339))
		return nil
	},
}

var nodeRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a node and revoke its token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseNodeID(args[0])
		if err != nil {
			return err
		}

		mgr, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer mgr.Shutdown()

		if err := mgr.DeleteNode(id); err != nil {
			return fmt.Errorf("failed to remove node: %w", err)
		}

		fmt.Printf("✓ Node removed: %d\n", id)
		return nil
	},
}

var nodeFeaturesCmd = &cobra.Command{
	Use:   "features ID",
	Short: "Replace the feature flags handed to a node at registration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseNodeID(args[0])
		if err != nil {
			return err
		}
		features, err := featuresFromFlags(cmd)
		if err != nil {
			return err
		}

		mgr, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer mgr.Shutdown()

		if _, err := mgr.SetFeatures(id, *features); err != nil {
			return fmt.Errorf("failed to update features: %w", err)
		}

		fmt.Printf("✓ Features updated for node %d\n", id)
		return nil
	},
}

var nodeRestartCmd = &cobra.Command{
	Use:   "restart ID",
	Short: "Restart the proxy service on a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nc, err := nodeClient(cmd, args[0])
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		resp, err := nc.Restart(ctx)
		if err != nil {
			return err
		}
		printStatus(resp)
		return nil
	},
}

var nodePushConfigCmd = &cobra.Command{
	Use:   "push-config ID",
	Short: "Store a proxy config and push it to the node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseNodeID(args[0])
		if err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		mgr, err := openManager(cmd)
		if err != nil {
			return err
		}
		if _, err := mgr.SetXrayConfig(id, string(data)); err != nil {
			mgr.Shutdown()
			return fmt.Errorf("failed to store config: %w", err)
		}
		mgr.Shutdown()
		fmt.Printf("✓ Config stored for node %d\n", id)

		nc, err := nodeClient(cmd, args[0])
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		resp, err := nc.PushConfig(ctx, string(data))
		if err != nil {
			return err
		}
		printStatus(resp)
		return nil
	},
}

var nodeLogsCmd = &cobra.Command{
	Use:   "logs ID",
	Short: "Fetch recent proxy logs from a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, _ := cmd.Flags().GetInt("lines")

		nc, err := nodeClient(cmd, args[0])
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		resp, err := nc.Logs(ctx, lines)
		if err != nil {
			return err
		}
		fmt.Print(resp.Logs)
		return nil
	},
}

var nodeStatsCmd = &cobra.Command{
	Use:   "stats ID",
	Short: "Fetch proxy statistics from a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nc, err := nodeClient(cmd, args[0])
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		resp, err := nc.Stats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Proxy: %s\n", resp.Stats.XrayStatus)
		fmt.Printf("  Uptime: %s\n", time.Duration(resp.Stats.Uptime)*time.Second)
		fmt.Printf("  Connections: %d\n", resp.Stats.Connections)
		fmt.Printf("  Traffic Up: %d\n", resp.Stats.TrafficUp)
		fmt.Printf("  Traffic Down: %d\n", resp.Stats.TrafficDown)
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeAddCmd)
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeShowCmd)
	nodeCmd.AddCommand(nodeRemoveCmd)
	nodeCmd.AddCommand(nodeFeaturesCmd)
	nodeCmd.AddCommand(nodeRestartCmd)
	nodeCmd.AddCommand(nodePushConfigCmd)
	nodeCmd.AddCommand(nodeLogsCmd)
	nodeCmd.AddCommand(nodeStatsCmd)

	nodeAddCmd.Flags().String("server-ip", "", "Public address of the node (required)")
	nodeAddCmd.Flags().String("location", "", "Free-form location label")
	nodeAddCmd.Flags().String("description", "", "Free-form description")
	_ = nodeAddCmd.MarkFlagRequired("server-ip")

	for _, c := range []*cobra.Command{nodeAddCmd, nodeFeaturesCmd} {
		defaults := types.DefaultFeatureConfig()
		c.Flags().Bool("vless", defaults.EnableVLESS, "Enable VLESS")
		c.Flags().Bool("splithttp", defaults.EnableSplitHTTP, "Enable SplitHTTP")
		c.Flags().Bool("hysteria2", defaults.EnableHysteria2, "Enable Hysteria2")
		c.Flags().Int("max-users", defaults.MaxUsers, "Maximum users on the node")
	}

	for _, c := range []*cobra.Command{nodeRestartCmd, nodePushConfigCmd, nodeLogsCmd, nodeStatsCmd} {
		c.Flags().String("agent-url", "", "Agent base URL (default http://<server_ip>:8080)")
		c.Flags().String("ca-file", "", "CA certificate for an agent serving TLS")
		c.Flags().Duration("timeout", client.DefaultTimeout, "Request timeout")
	}

	nodePushConfigCmd.Flags().StringP("file", "f", "", "JSON proxy config file (required)")
	_ = nodePushConfigCmd.MarkFlagRequired("file")

	nodeLogsCmd.Flags().IntP("lines", "n", 100, "Number of lines to fetch (max 1000)")
}

func featuresFromFlags(cmd *cobra.Command) (*types.FeatureConfig, error) {
	var f types.FeatureConfig
	f.EnableVLESS, _ = cmd.Flags().GetBool("vless")
	f.EnableSplitHTTP, _ = cmd.Flags().GetBool("splithttp")
	f.EnableHysteria2, _ = cmd.Flags().GetBool("hysteria2")
	f.MaxUsers, _ = cmd.Flags().GetInt("max-users")
	if f.MaxUsers < 0 {
		return nil, fmt.Errorf("max-users cannot be negative")
	}
	return &f, nil
}

// nodeClient looks up the node's secret in the store and returns a client
// that signs commands for it
func nodeClient(cmd *cobra.Command, arg string) (*client.NodeClient, error) {
	id, err := parseNodeID(arg)
	if err != nil {
		return nil, err
	}

	mgr, err := openManager(cmd)
	if err != nil {
		return nil, err
	}
	secret, node, err := mgr.NodeSecret(id)
	mgr.Shutdown()
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	agentURL, _ := cmd.Flags().GetString("agent-url")
	if agentURL == "" {
		agentURL = fmt.Sprintf("http://%s:%d", node.ServerIP, defaultAgentPort)
	}
	caFile, _ := cmd.Flags().GetString("ca-file")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	tlsConfig, err := security.LoadClientTLSConfig(caFile)
	if err != nil {
		return nil, err
	}
	return client.NewNodeClient(agentURL, secret, tlsConfig, timeout)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(cmd.Context(), timeout)
}

func parseNodeID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid node id %q", s)
	}
	return id, nil
}

func lastSeen(n *types.Node) string {
	if n.LastSeen == nil {
		return "never"
	}
	return n.LastSeen.Format(time.RFC3339)
}

func printStatus(resp *types.StatusResponse) {
	if resp.Message != "" {
		fmt.Printf("✓ %s: %s\n", resp.Status, resp.Message)
		return
	}
	fmt.Printf("✓ %s\n", resp.Status)
}
