package app

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"stark-claimer/internal/config"
	"stark-claimer/internal/domain"
	"stark-claimer/internal/registry"
)

// eligibilityFile is the layout of one airdrop allocation file.
type eligibilityFile struct {
	Eligibles []struct {
		Identity    string          `json:"identity"`
		Amount      decimal.Decimal `json:"amount"`
		MerkleIndex uint64          `json:"merkle_index"`
		MerklePath  []string        `json:"merkle_path"`
	} `json:"eligibles"`
}

// LoadInput reads the credential, destination and eligibility files named by
// cfg. Destination files of disabled withdrawals may be missing.
// cfg.Eligibility may be a glob; no match means no wallet is eligible.
func LoadInput(cfg config.InputsConfig, withdraw config.WithdrawConfig) (registry.Input, error) {
	var in registry.Input
	var err error

	if in.Secrets, err = readLines(cfg.Credentials, true); err != nil {
		return in, err
	}
	if in.PrimaryDestinations, err = readLines(cfg.PrimaryDestinations, withdraw.Primary); err != nil {
		return in, err
	}
	if in.SecondaryDestinations, err = readLines(cfg.SecondaryDestinations, withdraw.Secondary); err != nil {
		return in, err
	}
	if in.Eligibility, err = LoadEligibility(cfg.Eligibility); err != nil {
		return in, err
	}
	return in, nil
}

// readLines returns the non-empty lines of path. Lines starting with '#' are
// comments.
func readLines(path string, required bool) ([]string, error) {
	if path == "" {
		if required {
			return nil, errors.New("input path is empty")
		}
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// LoadEligibility reads every allocation file matching pattern and indexes
// the entries by normalized address.
func LoadEligibility(pattern string) (map[string]domain.Eligibility, error) {
	out := make(map[string]domain.Eligibility)
	if pattern == "" {
		return out, nil
	}

	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("eligibility pattern %q: %w", pattern, err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var file eligibilityFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		for i, e := range file.Eligibles {
			if e.Identity == "" {
				return nil, fmt.Errorf("%s: entry %d has no identity", path, i)
			}
			if !e.Amount.IsPositive() {
				return nil, fmt.Errorf("%s: entry %d has non-positive amount %s", path, i, e.Amount)
			}
			key := domain.NormalizeAddress(e.Identity)
			if _, dup := out[key]; dup {
				return nil, fmt.Errorf("%s: duplicate allocation for %s", path, e.Identity)
			}
			out[key] = domain.Eligibility{
				Identity:   e.Identity,
				Amount:     config.ToWei(e.Amount),
				Index:      e.MerkleIndex,
				MerklePath: e.MerklePath,
			}
		}
	}
	return out, nil
}
