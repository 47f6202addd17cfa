// ///////////////////////////////////////////////////////////////////////////
//
// # DVV - Data Vault Validator
//
// Copyright (C) 2024 - 2026, the Data Vault Validation Tool authors
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package core

import (
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/config"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/types"
)

// ThresholdModel maps (row volume, view role) to an allowed gap. Small
// tables get a looser percentage since absolute noise dominates; large
// tables are held to a tighter percentage since the same percentage hides
// many more records. The absolute floor is never zero.
type ThresholdModel struct {
	cfg config.ThresholdConfig
}

func NewThresholdModel(cfg config.ThresholdConfig) *ThresholdModel {
	return &ThresholdModel{cfg: cfg}
}

func (m *ThresholdModel) Bucket(volume int64) types.VolumeBucket {
	switch {
	case volume < m.cfg.SmallVolumeBoundary:
		return types.VolumeSmall
	case volume < m.cfg.LargeVolumeBoundary:
		return types.VolumeMedium
	default:
		return types.VolumeLarge
	}
}

func (m *ThresholdModel) rolePercent(role types.ViewRole) float64 {
	switch role {
	case types.RoleFact:
		return m.cfg.FactPercent
	case types.RoleCurrent:
		return m.cfg.CurrentPercent
	case types.RoleDimension:
		return m.cfg.DimensionPercent
	default:
		// No role hint: fail toward reporting, not toward silence.
		return m.cfg.DimensionPercent
	}
}

// Profile derives the tolerance for one comparison stage.
func (m *ThresholdModel) Profile(volume int64, role types.ViewRole) types.ThresholdProfile {
	bucket := m.Bucket(volume)
	pct := m.rolePercent(role)

	switch bucket {
	case types.VolumeSmall:
		pct *= m.cfg.SmallVolumeScale
	case types.VolumeLarge:
		pct *= m.cfg.LargeVolumeScale
	}
	if pct > 1 {
		pct = 1
	}

	allowed := int64(float64(volume) * pct)
	if allowed < m.cfg.AbsoluteFloor {
		allowed = m.cfg.AbsoluteFloor
	}

	return types.ThresholdProfile{
		Bucket:           bucket,
		Role:             role,
		PercentTolerance: pct,
		AbsoluteFloor:    m.cfg.AbsoluteFloor,
		AllowedGap:       allowed,
	}
}

// IsSignificant decides whether a gap is worth surfacing for the given
// volume and role, and returns the profile that decided it.
func (m *ThresholdModel) IsSignificant(gap, volume int64, role types.ViewRole) (bool, types.ThresholdProfile) {
	profile := m.Profile(volume, role)
	if gap <= 0 {
		return false, profile
	}
	return gap > profile.AllowedGap, profile
}
