package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-shop-api/internal/cache"
	"github.com/safar/go-shop-api/internal/models"
	"github.com/safar/go-shop-api/internal/store"
)

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

type productRequest struct {
	SKU         string      `json:"sku"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	CategoryID  *int64      `json:"category_id"`
	Price       json.Number `json:"price"`
	Stock       int         `json:"stock"`
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	price, err := decodeMoney(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid price")
		return
	}

	product, err := store.CreateProduct(r.Context(), h.db, store.CreateProductRequest{
		SKU:         req.SKU,
		Name:        req.Name,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		Price:       price,
		Stock:       req.Stock,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, product)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	key := cache.Key("product", id)
	var cached models.Product
	if h.cache.GetJSON(r.Context(), key, &cached) {
		respondJSON(w, http.StatusOK, &cached)
		return
	}

	product, err := store.GetProduct(r.Context(), h.db, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	h.cache.SetJSON(r.Context(), key, product)

	respondJSON(w, http.StatusOK, product)
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	price, err := decodeMoney(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid price")
		return
	}

	product, err := store.UpdateProduct(r.Context(), h.db, id, store.UpdateProductRequest{
		Name:        req.Name,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		Price:       price,
		Stock:       req.Stock,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	h.cache.Delete(r.Context(), cache.Key("product", id))

	respondJSON(w, http.StatusOK, product)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	if err := store.DeleteProduct(r.Context(), h.db, id); err != nil {
		respondStoreError(w, err)
		return
	}
	h.cache.Delete(r.Context(), cache.Key("product", id))

	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	result, err := store.ListProducts(r.Context(), h.db, page, pageSize)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		ParentID *int64 `json:"parent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	category, err := store.CreateCategory(r.Context(), h.db, req.Name, req.ParentID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, category)
}

func (h *Handler) GetCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid category ID")
		return
	}

	key := cache.Key("category", id)
	var cached models.Category
	if h.cache.GetJSON(r.Context(), key, &cached) {
		respondJSON(w, http.StatusOK, &cached)
		return
	}

	category, err := store.GetCategory(r.Context(), h.db, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	h.cache.SetJSON(r.Context(), key, category)

	respondJSON(w, http.StatusOK, category)
}

func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid category ID")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	category, err := store.UpdateCategory(r.Context(), h.db, id, req.Name)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	h.cache.Delete(r.Context(), cache.Key("category", id))

	respondJSON(w, http.StatusOK, category)
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid category ID")
		return
	}

	if err := store.DeleteCategory(r.Context(), h.db, id); err != nil {
		respondStoreError(w, err)
		return
	}
	h.cache.Delete(r.Context(), cache.Key("category", id))

	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := store.ListCategories(r.Context(), h.db)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

func (h *Handler) ListCategoryChildren(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid category ID")
		return
	}

	children, err := store.ListCategoryChildren(r.Context(), h.db, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, children)
}
