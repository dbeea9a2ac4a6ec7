package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"helpdesk-bot/models"
)

// companyCache stores company configurations in memory for faster access.
// Every inbound event needs a page lookup, so this sits on the hot path.
var (
	companyCache = make(map[string]*models.Company)
	cacheExpiry  = make(map[string]time.Time)
	cacheMu      sync.RWMutex
)

const companyCacheTTL = 5 * time.Minute

// GetCompanyByPageID retrieves company configuration by page ID. An unknown
// or inactive page returns (nil, nil) so callers can distinguish it from a
// lookup failure.
func GetCompanyByPageID(ctx context.Context, pageID string) (*models.Company, error) {
	if company, found := getFromCache(pageID); found {
		return company, nil
	}

	collection := database.Collection("companies")

	filter := bson.M{
		"pages.page_id": pageID,
		"is_active":     true,
	}

	var company models.Company
	err := collection.FindOne(ctx, filter).Decode(&company)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			slog.Warn("No company found for page", "pageID", pageID)
			return nil, nil
		}
		return nil, err
	}

	storeInCache(pageID, &company)

	return &company, nil
}

// GetPageConfig retrieves one page's configuration from a company document
func GetPageConfig(company *models.Company, pageID string) (*models.Page, error) {
	for i := range company.Pages {
		if company.Pages[i].PageID == pageID && company.Pages[i].IsActive {
			return &company.Pages[i], nil
		}
	}
	return nil, fmt.Errorf("page %s not found or inactive in company configuration", pageID)
}

// GetCompanyByID retrieves an active company by its company ID
func GetCompanyByID(ctx context.Context, companyID string) (*models.Company, error) {
	collection := database.Collection("companies")

	filter := bson.M{"company_id": companyID}

	var company models.Company
	if err := collection.FindOne(ctx, filter).Decode(&company); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("company %s not found", companyID)
		}
		return nil, err
	}

	return &company, nil
}

// DispatchDelay returns the company's debounce window, clamped to [0, 30]
// seconds. fallback applies when the company has no override; an explicit
// zero means immediate dispatch.
func DispatchDelay(company *models.Company, fallback int) time.Duration {
	seconds := fallback
	if company.DispatchDelaySeconds != nil {
		seconds = *company.DispatchDelaySeconds
	}
	if seconds < 0 {
		seconds = 0
	}
	if seconds > 30 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

// UpdateCompany updates an existing company configuration
func UpdateCompany(ctx context.Context, companyID string, update bson.M) error {
	collection := database.Collection("companies")

	filter := bson.M{"company_id": companyID}
	update["updated_at"] = time.Now()

	_, err := collection.UpdateOne(ctx, filter, bson.M{"$set": update})

	clearCompanyCache(companyID)

	return err
}

// Cache helper functions
func getFromCache(pageID string) (*models.Company, bool) {
	cacheMu.RLock()
	expiry, exists := cacheExpiry[pageID]
	company, found := companyCache[pageID]
	cacheMu.RUnlock()

	if exists && time.Now().Before(expiry) && found {
		return company, true
	}

	if exists {
		cacheMu.Lock()
		delete(companyCache, pageID)
		delete(cacheExpiry, pageID)
		cacheMu.Unlock()
	}
	return nil, false
}

func storeInCache(pageID string, company *models.Company) {
	cacheMu.Lock()
	companyCache[pageID] = company
	cacheExpiry[pageID] = time.Now().Add(companyCacheTTL)
	cacheMu.Unlock()
}

func clearCompanyCache(companyID string) {
	cacheMu.Lock()
	for pageID, company := range companyCache {
		if company.CompanyID == companyID {
			delete(companyCache, pageID)
			delete(cacheExpiry, pageID)
		}
	}
	cacheMu.Unlock()
}
