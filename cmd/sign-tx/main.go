package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/crypto"
)

func main() {
	if err := NewCLI().root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// CLI builds and signs devnet transactions offline
type CLI struct {
	root *cobra.Command
}

func NewCLI() *CLI {
	cli := &CLI{}
	cli.root = &cobra.Command{
		Use:           "sign-tx",
		Short:         "Offline key and signing tool for the celldex devnet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	keygen := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a secp256k1 key",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Address: %s\n", signer.Address().Hex())
			fmt.Fprintf(cmd.OutOrStdout(), "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
			return nil
		},
	}

	sign := &cobra.Command{
		Use:   "sign [tx.json]",
		Short: "Sign a transaction read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := cmd.Flags().GetString("key")
			if err != nil {
				return err
			}
			inputs, err := cmd.Flags().GetIntSlice("input")
			if err != nil {
				return err
			}
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return signTx(in, cmd.OutOrStdout(), key, inputs)
		},
	}
	sign.Flags().StringP("key", "k", "", "Hex private key")
	sign.Flags().IntSliceP("input", "i", []int{0}, "Input indexes whose witness receives the signature")
	_ = sign.MarkFlagRequired("key")

	hash := &cobra.Command{
		Use:   "hash [tx.json]",
		Short: "Print the tx hash and the hash that gets signed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			tx, err := readTx(in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tx Hash: %s\n", tx.Hash().Hex())
			fmt.Fprintf(cmd.OutOrStdout(), "Signing Hash: 0x%x\n", crypto.SigningHash(tx))
			return nil
		},
	}

	cli.root.AddCommand(keygen, sign, hash)
	return cli
}

func readTx(r io.Reader) (*cell.Transaction, error) {
	var tx cell.Transaction
	if err := json.NewDecoder(r).Decode(&tx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return &tx, nil
}

// signTx signs the tx once per input index and writes it back as JSON
func signTx(r io.Reader, w io.Writer, key string, inputs []int) error {
	signer, err := crypto.FromPrivateKeyHex(key)
	if err != nil {
		return err
	}
	tx, err := readTx(r)
	if err != nil {
		return err
	}
	for _, idx := range inputs {
		if err := signer.SignTransaction(tx, idx); err != nil {
			return fmt.Errorf("failed to sign input %d: %w", idx, err)
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(tx)
}
