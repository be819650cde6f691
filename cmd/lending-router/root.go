package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weisyn/lending-router-go/bridge"
	"github.com/weisyn/lending-router-go/config"
)

// newRootCmd 创建根命令
//
// **子命令**：
// - validate：校验配置文件
// - routes：打印合并后的分发表
// - keystore：管理提交批次用的钱包
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lending-router",
		Short:         "Burst router for share-accounted lending markets",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringP("config", "c", "router.yaml", "config file (.yaml / .yml / .json)")

	root.AddCommand(newValidateCmd(), newRoutesCmd(), newKeystoreCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return cfg, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config OK\n")
			fmt.Fprintf(out, "  chainId:   %d\n", cfg.ChainID)
			fmt.Fprintf(out, "  admin:     %s\n", cfg.Admin.Hex())
			fmt.Fprintf(out, "  router:    %s\n", cfg.Router.Hex())
			fmt.Fprintf(out, "  estimator: %s\n", cfg.Estimator.Type)

			// rpc 估算器的节点必须在本链上
			est, err := cfg.NewEstimator(nil)
			if err != nil {
				return err
			}
			if rpc, ok := est.(*bridge.RPCFeeEstimator); ok {
				if err := rpc.CheckChainID(cmd.Context(), uint64(cfg.ChainID)); err != nil {
					return fmt.Errorf("check estimator endpoint failed: %w", err)
				}
				fmt.Fprintf(out, "  endpoint:  %s (chain %d)\n", cfg.Estimator.Client.Endpoint, cfg.ChainID)
			}
			return nil
		},
	}
}
