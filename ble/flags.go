package ble

import (
  "strconv"
  "strings"
)

// Flags tune how the HCI device scans for the thermometer.
type Flags int

const (
  // Ask advertisers for scan responses. Many sensors only put their local name in the response.
  FlagScanTypeActive Flags = 1 << iota
  // Only report the configured address. Must be configured with `SetAllowListedAddresses()`.
  FlagEnableDeviceAllowList
)

func (f Flags) Has(flag Flags) bool {
  return f & flag == flag
}

func (f Flags) scanType() scanType {
  if f.Has(FlagScanTypeActive) {
    return scanTypeActive
  }

  return scanTypePassive
}

func (f Flags) filterPolicy() filterPolicy {
  if f.Has(FlagEnableDeviceAllowList) {
    return filterPolicyAllowListedOnly
  }

  return filterPolicyAcceptAll
}

func (f Flags) String() string {
  var flags []string

  if f.Has(FlagScanTypeActive) {
    flags = append(flags, "active scan")
  }

  if f.Has(FlagEnableDeviceAllowList) {
    flags = append(flags, "device allow-list")
  }

  if len(flags) == 0 {
    return "none"
  }

  return strings.Join(flags, ", ")
}

// HCI LE Set Scan Parameters: LE_Scan_Type.
type scanType uint8

const (
  scanTypePassive scanType = iota
  scanTypeActive
)

func (s scanType) String() string {
  switch s {
  case scanTypeActive:
    return "Active"
  case scanTypePassive:
    return "Passive"
  default:
    panic("unknown scanType value: " + strconv.Itoa(int(s)))
  }
}

// HCI LE Set Scan Parameters: Scanning_Filter_Policy.
type filterPolicy uint8

const (
  filterPolicyAcceptAll filterPolicy = iota
  filterPolicyAllowListedOnly
)

func (f filterPolicy) String() string {
  switch f {
  case filterPolicyAcceptAll:
    return "Accept All"
  case filterPolicyAllowListedOnly:
    return "Allow-listed Only"
  default:
    panic("unknown filterPolicy value: " + strconv.Itoa(int(f)))
  }
}
