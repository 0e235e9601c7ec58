// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package worker

import "asherah/internal/config"

// quickPorts covers the handful of services a hidden service operator most
// commonly exposes alongside its HTTP front door.
var quickPorts = []int{21, 22, 25, 80, 443, 3306, 6379}

// standardPorts extends quickPorts with the broader well-known range.
var standardPorts = []int{
	21, 22, 23, 25, 53, 80, 110, 111, 135, 139, 143, 443, 445, 465, 587,
	993, 995, 1433, 1521, 2049, 2121, 3000, 3306, 3389, 5000, 5432, 5900,
	6379, 6443, 7001, 8000, 8008, 8080, 8081, 8443, 8888, 9000, 9090,
	9200, 9300, 11211, 27017,
}

// fullPorts is standardPorts plus the 1-1024 well-known range deduplicated
// against it, giving a dense low-port sweep plus the notable high ports.
var fullPorts = buildFullPorts()

func buildFullPorts() []int {
	seen := make(map[int]struct{}, 1100)
	out := make([]int, 0, 1100)
	for p := 1; p <= 1024; p++ {
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, p := range standardPorts {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// cryptoPorts targets services favored by onion-hosted exchanges and
// wallets: RPC ports for common chains plus a handful of P2P listeners.
var cryptoPorts = []int{
	8332, 8333, 18332, 18333, // Bitcoin RPC/P2P, mainnet+testnet
	8545, 8546, 30303, // Ethereum RPC/WS/P2P
	9332, 9333, // Litecoin
	18080, 18081, // Monero
	7777, 9999, 11009, 11010, // assorted altcoin daemons
	2121, 5001, 6379, 9050, 9051, // FTP/IPFS/Redis/Tor control plane
	443, 80,
}

// PortsForProfile resolves a scanner profile to its concrete port list.
func PortsForProfile(profile config.ScannerProfile) []int {
	switch profile {
	case config.ScannerProfileFull:
		return fullPorts
	case config.ScannerProfileCrypto:
		return cryptoPorts
	case config.ScannerProfileStandard:
		return standardPorts
	default:
		return quickPorts
	}
}
