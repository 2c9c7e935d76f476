package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"media-archive-search/models"
)

// ResultKind selects the per-hit body the formatter renders.
type ResultKind string

const (
	KindText         ResultKind = "text"
	KindTextSemantic ResultKind = "text_semantic"
	KindVideo        ResultKind = "video"
	KindEpisodeName  ResultKind = "episode_name"
)

// FormatResult renders a raw hit set as a stable text block. It is a
// pure function of the hit fields: no I/O, no side effects. The JSON
// alternative is a pass-through of the raw SearchResult and lives in
// the HTTP layer.
func FormatResult(result *models.SearchResult, kind ResultKind) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Found %d results\n", result.Total)

	for _, hit := range result.Hits {
		sb.WriteString("\n")
		writeHit(&sb, hit, kind)
	}

	return sb.String()
}

func writeHit(sb *strings.Builder, hit models.SearchHit, kind ResultKind) {
	meta := hit.EpisodeMetadata
	fmt.Fprintf(sb, "S%dE%d-%s\n", meta.Season, meta.EpisodeNumber, meta.Title)

	switch kind {
	case KindText:
		speaker := hit.Speaker
		if speaker == "" {
			speaker = "unknown speaker"
		}
		fmt.Fprintf(sb, "[%s - %s] %s: %s\n",
			formatTimestamp(hit.StartTime), formatTimestamp(hit.EndTime), speaker, hit.Text)

	case KindTextSemantic:
		fmt.Fprintf(sb, "[%s] %s\n", hit.SegmentRange, hit.Text)

	case KindVideo:
		fmt.Fprintf(sb, "[%s]", formatTimestamp(hit.Timestamp))
		if chars := formatCharacters(hit.CharacterAppearances); chars != "" {
			fmt.Fprintf(sb, " %s", chars)
		}
		sb.WriteString("\n")

	case KindEpisodeName:
		// No extra body beyond the episode identity line.
	}

	if hit.SceneInfo != nil {
		fmt.Fprintf(sb, "[Scene %d: %s]\n", hit.SceneInfo.SceneNumber, formatTimestamp(hit.SceneInfo.StartTime))
	}

	fmt.Fprintf(sb, "%s\n", hit.VideoPath)
}

// formatCharacters renders recognized characters as a comma-joined
// "name (emotion)" list, but only when at least one appearance
// carries an emotion tag.
func formatCharacters(appearances []models.CharacterAppearance) string {
	tagged := false
	for _, ca := range appearances {
		if ca.Emotion != nil {
			tagged = true
			break
		}
	}
	if !tagged {
		return ""
	}

	parts := make([]string, 0, len(appearances))
	for _, ca := range appearances {
		if ca.Emotion != nil {
			parts = append(parts, fmt.Sprintf("%s (%s)", ca.Name, ca.Emotion.Label))
		} else {
			parts = append(parts, ca.Name)
		}
	}
	return strings.Join(parts, ", ")
}

// formatTimestamp renders seconds as "<minutes>m <seconds>s" with one
// decimal on the seconds. Rounding to tenths happens before the minute
// split so a value just under a whole minute never renders as "60.0s".
func formatTimestamp(seconds float64) string {
	rounded, _ := strconv.ParseFloat(strconv.FormatFloat(seconds, 'f', 1, 64), 64)
	minutes := int(rounded) / 60
	return fmt.Sprintf("%dm %.1fs", minutes, rounded-float64(minutes*60))
}

// FormatFacets renders facet buckets in descending-count order. The
// engine hands buckets over in backend order; the display sort lives
// here.
func FormatFacets(buckets []models.FacetBucket, label string) string {
	sorted := make([]models.FacetBucket, len(buckets))
	copy(sorted, buckets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Count > sorted[j].Count
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d)\n", label, len(sorted))
	for _, b := range sorted {
		fmt.Fprintf(&sb, "%s: %d\n", b.Value, b.Count)
	}
	return sb.String()
}
